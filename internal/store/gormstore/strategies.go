package gormstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"stratlab/internal/logger"
	"stratlab/internal/optimizer"
	"stratlab/internal/pkg/errs"
	"stratlab/internal/strategy"
)

var _ optimizer.GenerationSink = (*GormStore)(nil)

// StrategyFilter 是列表查询条件。
type StrategyFilter struct {
	Active   *bool
	Category string
	Parent   string
	Offset   int
	Limit    int
}

func newStrategyModel(s strategy.Strategy) (strategyModel, error) {
	m := strategyModel{
		ID:              s.ID,
		Name:            strings.TrimSpace(s.Name),
		Description:     s.Description,
		Category:        s.Category,
		RiskLevel:       strings.ToUpper(s.RiskLevel),
		ParentStrategy:  s.ParentStrategy,
		Generation:      s.Generation,
		ExpectedWinRate: s.ExpectedWinRate,
		ExpectedSharpe:  s.ExpectedSharpe,
		IsActive:        s.IsActive,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	var err error
	if m.Tags, err = toJSON(s.Tags); err != nil {
		return m, err
	}
	if m.ConfigJSON, err = toJSON(s.Config); err != nil {
		return m, err
	}
	if m.ParamsJSON, err = toJSON(s.OptimizableParams); err != nil {
		return m, err
	}
	if len(s.PerformanceSnapshot) > 0 {
		m.PerformanceSnapshot = append([]byte(nil), s.PerformanceSnapshot...)
	}
	return m, nil
}

func strategyFromModel(m strategyModel) (strategy.Strategy, error) {
	s := strategy.Strategy{
		ID:              m.ID,
		Name:            m.Name,
		Description:     m.Description,
		Category:        m.Category,
		RiskLevel:       m.RiskLevel,
		ParentStrategy:  m.ParentStrategy,
		Generation:      m.Generation,
		ExpectedWinRate: m.ExpectedWinRate,
		ExpectedSharpe:  m.ExpectedSharpe,
		IsActive:        m.IsActive,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if err := fromJSON(m.Tags, &s.Tags); err != nil {
		return s, fmt.Errorf("strategy %s tags: %w", m.ID, err)
	}
	if err := fromJSON(m.ConfigJSON, &s.Config); err != nil {
		return s, fmt.Errorf("strategy %s config: %w", m.ID, err)
	}
	if err := fromJSON(m.ParamsJSON, &s.OptimizableParams); err != nil {
		return s, fmt.Errorf("strategy %s params: %w", m.ID, err)
	}
	if len(m.PerformanceSnapshot) > 0 {
		s.PerformanceSnapshot = append([]byte(nil), m.PerformanceSnapshot...)
	}
	return s, nil
}

// CreateStrategy 校验并写入新策略，名称已存在时返回 InvalidStrategy。
func (s *GormStore) CreateStrategy(ctx context.Context, st strategy.Strategy) (strategy.Strategy, error) {
	if err := s.ready(); err != nil {
		return strategy.Strategy{}, err
	}
	if err := st.Validate(); err != nil {
		return strategy.Strategy{}, err
	}
	var out strategy.Strategy
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := nameTaken(tx, st.Name, "")
		if err != nil {
			return err
		}
		if taken {
			return errs.InvalidStrategy("strategy name already exists", st.Name)
		}
		out, err = insertStrategy(tx, st)
		return err
	})
	if err != nil {
		return strategy.Strategy{}, err
	}
	logger.Infof("[store] strategy created id=%s name=%q", out.ID, out.Name)
	return out, nil
}

func insertStrategy(tx *gorm.DB, st strategy.Strategy) (strategy.Strategy, error) {
	now := time.Now().UTC()
	st.ID = uuid.NewString()
	st.CreatedAt = now
	st.UpdatedAt = now
	m, err := newStrategyModel(st)
	if err != nil {
		return strategy.Strategy{}, err
	}
	if err := tx.Create(&m).Error; err != nil {
		return strategy.Strategy{}, err
	}
	return st, nil
}

func nameTaken(tx *gorm.DB, name, exceptID string) (bool, error) {
	q := tx.Model(&strategyModel{}).Where("name = ?", strings.TrimSpace(name))
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveGeneration 保存演化产生的策略，名称冲突时追加 " (2)"、" (3)"… 后缀。
func (s *GormStore) SaveGeneration(ctx context.Context, st strategy.Strategy) (strategy.Strategy, error) {
	if err := s.ready(); err != nil {
		return strategy.Strategy{}, err
	}
	if err := st.Validate(); err != nil {
		return strategy.Strategy{}, err
	}
	var out strategy.Strategy
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		base := strings.TrimSpace(st.Name)
		name := base
		for n := 2; ; n++ {
			taken, err := nameTaken(tx, name, "")
			if err != nil {
				return err
			}
			if !taken {
				break
			}
			name = fmt.Sprintf("%s (%d)", base, n)
		}
		st.Name = name
		var err error
		out, err = insertStrategy(tx, st)
		return err
	})
	if err != nil {
		return strategy.Strategy{}, err
	}
	logger.Infof("[store] generation %d saved id=%s name=%q parent=%q", out.Generation, out.ID, out.Name, out.ParentStrategy)
	return out, nil
}

// GetStrategy 按 ID 读取。
func (s *GormStore) GetStrategy(ctx context.Context, id string) (strategy.Strategy, error) {
	if err := s.ready(); err != nil {
		return strategy.Strategy{}, err
	}
	var m strategyModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return strategy.Strategy{}, notFound(err, "strategy", id)
	}
	return strategyFromModel(m)
}

// GetStrategyByName 按名称读取（大小写不敏感）。
func (s *GormStore) GetStrategyByName(ctx context.Context, name string) (strategy.Strategy, error) {
	if err := s.ready(); err != nil {
		return strategy.Strategy{}, err
	}
	var m strategyModel
	err := s.db.WithContext(ctx).Where("LOWER(name) = ?", strings.ToLower(strings.TrimSpace(name))).First(&m).Error
	if err != nil {
		return strategy.Strategy{}, notFound(err, "strategy", name)
	}
	return strategyFromModel(m)
}

// ListStrategies 按创建时间倒序分页，返回当页记录与总数。
func (s *GormStore) ListStrategies(ctx context.Context, f StrategyFilter) ([]strategy.Strategy, int64, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}
	q := s.db.WithContext(ctx).Model(&strategyModel{})
	if f.Active != nil {
		q = q.Where("is_active = ?", *f.Active)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Parent != "" {
		q = q.Where("parent_strategy = ?", f.Parent)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := clampPage(f.Offset, f.Limit)
	var models []strategyModel
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	out := make([]strategy.Strategy, 0, len(models))
	for _, m := range models {
		st, err := strategyFromModel(m)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, st)
	}
	return out, total, nil
}

// UpdateStrategy 覆盖已有策略的可编辑字段。
func (s *GormStore) UpdateStrategy(ctx context.Context, st strategy.Strategy) (strategy.Strategy, error) {
	if err := s.ready(); err != nil {
		return strategy.Strategy{}, err
	}
	if st.ID == "" {
		return strategy.Strategy{}, fmt.Errorf("strategy id is required")
	}
	if err := st.Validate(); err != nil {
		return strategy.Strategy{}, err
	}
	var out strategy.Strategy
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur strategyModel
		if err := tx.Where("id = ?", st.ID).First(&cur).Error; err != nil {
			return notFound(err, "strategy", st.ID)
		}
		taken, err := nameTaken(tx, st.Name, st.ID)
		if err != nil {
			return err
		}
		if taken {
			return errs.InvalidStrategy("strategy name already exists", st.Name)
		}
		st.CreatedAt = cur.CreatedAt
		st.UpdatedAt = time.Now().UTC()
		m, err := newStrategyModel(st)
		if err != nil {
			return err
		}
		if err := tx.Save(&m).Error; err != nil {
			return err
		}
		out = st
		return nil
	})
	return out, err
}

// DeleteStrategy 删除策略，其回测与优化记录保留。
func (s *GormStore) DeleteStrategy(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&strategyModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "strategy", id)
	}
	return nil
}
