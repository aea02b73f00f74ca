package backtesthttp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"stratlab/internal/pkg/errs"
	"stratlab/internal/store/gormstore"
	"stratlab/internal/strategy"
)

func (s *Server) handleStrategyList(c *gin.Context) {
	if s.store == nil {
		unavailable(c, "strategy store")
		return
	}
	offset, limit, ok := page(c, 100)
	if !ok {
		return
	}
	filter := gormstore.StrategyFilter{
		Category: c.Query("category"),
		Parent:   c.Query("parent"),
		Offset:   offset,
		Limit:    limit,
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "invalid active flag")
			return
		}
		filter.Active = &active
	}
	list, total, err := s.store.ListStrategies(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": list, "total": total})
}

func (s *Server) handleStrategyCreate(c *gin.Context) {
	if s.store == nil {
		unavailable(c, "strategy store")
		return
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	st, err := strategy.DecodeDocument(raw, "")
	if err != nil {
		writeError(c, err)
		return
	}
	if st.Name == "" {
		writeError(c, errs.InvalidStrategy("name is required", "name"))
		return
	}
	saved, err := s.store.CreateStrategy(c.Request.Context(), st)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"strategy": saved})
}

func (s *Server) handleStrategyDetail(c *gin.Context) {
	if s.store == nil {
		unavailable(c, "strategy store")
		return
	}
	st, err := s.store.GetStrategy(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": st})
}

// 不可由客户端修改的字段。
var frozenStrategyFields = []string{"id", "created_at", "updated_at", "parent_strategy", "generation", "performance_snapshot"}

// handleStrategyUpdate 把请求体中的字段覆盖到现有策略上，再按完整文档重新校验。
func (s *Server) handleStrategyUpdate(c *gin.Context) {
	if s.store == nil {
		unavailable(c, "strategy store")
		return
	}
	ctx := c.Request.Context()
	cur, err := s.store.GetStrategy(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	var patch map[string]json.RawMessage
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(patch) == 0 {
		badRequest(c, "no fields to update")
		return
	}
	base, err := json.Marshal(cur)
	if err != nil {
		writeError(c, err)
		return
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(base, &doc); err != nil {
		writeError(c, err)
		return
	}
	for k, v := range patch {
		doc[k] = v
	}
	for _, k := range frozenStrategyFields {
		delete(doc, k)
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		writeError(c, err)
		return
	}
	next, err := strategy.DecodeDocument(merged, cur.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	next.ID = cur.ID
	next.ParentStrategy = cur.ParentStrategy
	next.Generation = cur.Generation
	next.PerformanceSnapshot = cur.PerformanceSnapshot
	saved, err := s.store.UpdateStrategy(ctx, next)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": saved})
}

func (s *Server) handleStrategyDelete(c *gin.Context) {
	if s.store == nil {
		unavailable(c, "strategy store")
		return
	}
	id := c.Param("id")
	if err := s.store.DeleteStrategy(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// 内置策略与用户策略库合并展示，同名时用户策略优先。
func (s *Server) catalog() ([]strategy.Strategy, error) {
	builtin, err := strategy.Prebuilt()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]strategy.Strategy, len(builtin))
	for _, st := range builtin {
		byName[st.Name] = st
	}
	if s.library != nil {
		for _, st := range s.library.Snapshot().Strategies {
			byName[st.Name] = st
		}
	}
	out := make([]strategy.Strategy, 0, len(byName))
	for _, st := range byName {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Server) handlePrebuiltList(c *gin.Context) {
	list, err := s.catalog()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": list, "total": len(list)})
}

func (s *Server) handlePrebuiltDetail(c *gin.Context) {
	name := c.Param("name")
	st, ok := s.lookupPrebuilt(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "prebuilt strategy " + strconv.Quote(name) + " not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": st})
}

// lookupPrebuilt 先查用户策略库，再查内置策略。
func (s *Server) lookupPrebuilt(name string) (strategy.Strategy, bool) {
	if s.library != nil {
		if st, ok := s.library.Get(name); ok {
			return st, true
		}
	}
	return strategy.PrebuiltByName(name)
}

func (s *Server) handlePrebuiltImport(c *gin.Context) {
	if s.store == nil {
		unavailable(c, "strategy store")
		return
	}
	name := c.Param("name")
	st, ok := s.lookupPrebuilt(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "prebuilt strategy " + strconv.Quote(name) + " not found"})
		return
	}
	st.ID = ""
	saved, err := s.store.CreateStrategy(c.Request.Context(), st)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"strategy": saved})
}

// handlePrebuiltInitialize 导入目录中尚未入库的全部策略，已存在的同名策略跳过。
func (s *Server) handlePrebuiltInitialize(c *gin.Context) {
	if s.store == nil {
		unavailable(c, "strategy store")
		return
	}
	list, err := s.catalog()
	if err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	created, skipped := []string{}, []string{}
	for _, st := range list {
		_, err := s.store.GetStrategyByName(ctx, st.Name)
		switch {
		case err == nil:
			skipped = append(skipped, st.Name)
			continue
		case !errors.Is(err, errs.ErrNotFound):
			writeError(c, err)
			return
		}
		st.ID = ""
		if _, err := s.store.CreateStrategy(ctx, st); err != nil {
			writeError(c, err)
			return
		}
		created = append(created, st.Name)
	}
	c.JSON(http.StatusOK, gin.H{"created": created, "skipped": skipped})
}

// handleCompare 对比多个策略的元信息与最近一次回测，ids 以逗号分隔或重复传入。
func (s *Server) handleCompare(c *gin.Context) {
	if s.store == nil {
		unavailable(c, "strategy store")
		return
	}
	var ids []string
	for _, raw := range c.QueryArray("ids") {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) < 2 {
		badRequest(c, "at least two strategy ids are required")
		return
	}
	rows, err := s.store.CompareStrategies(c.Request.Context(), ids)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": rows, "total": len(rows)})
}
