// Package stats 汇总平台统计数据。每次调用都从数据库重新计算，不做任何缓存。
package stats

import (
	"time"

	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
	"golang.org/x/sync/errgroup"
)

type Source interface {
	CountUsers() (int64, error)
	CountUsersByRole() ([]domain.GroupCount, error)
	EarliestUserCreatedAt() (*time.Time, error)
	CountKnowledge() (int64, error)
	CountKnowledgeByState() ([]domain.GroupCount, error)
	CountKnowledgeByClassification() ([]domain.GroupCount, error)
	GetOrCreatePlatform() (*domain.Platform, error)
	UpdatePlatformCounters(p *domain.Platform) error
}

type Aggregator struct {
	source Source
	now    func() time.Time
}

func NewAggregator(source Source) *Aggregator {
	return &Aggregator{
		source: source,
		now:    time.Now,
	}
}

// RefreshPlatform 重新计算平台计数器并写回唯一的平台记录
func (a *Aggregator) RefreshPlatform() (*domain.Platform, error) {
	platform, err := a.source.GetOrCreatePlatform()
	if err != nil {
		return nil, err
	}

	users, err := a.source.CountUsers()
	if err != nil {
		return nil, err
	}
	knowledge, err := a.source.CountKnowledge()
	if err != nil {
		return nil, err
	}

	// 运行时长从第一个用户注册开始算，没有用户时从平台创建开始算
	start := platform.CreatedAt
	earliest, err := a.source.EarliestUserCreatedAt()
	if err != nil {
		return nil, err
	}
	if earliest != nil {
		start = *earliest
	}

	operational := int64(a.now().Sub(start) / time.Second)
	if operational < 0 {
		operational = 0
	}

	platform.RegisteredUsers = users
	platform.StoredKnowledgeCount = knowledge
	platform.OperationalTime = operational

	if err := a.source.UpdatePlatformCounters(platform); err != nil {
		return nil, err
	}

	return platform, nil
}

func (a *Aggregator) Compute() (*domain.PlatformStats, error) {
	platform, err := a.RefreshPlatform()
	if err != nil {
		return nil, err
	}

	// 三个分组统计互不依赖，并发查询
	var byState, byRole, byClassification []domain.GroupCount
	eg := errgroup.Group{}
	eg.Go(func() (err error) {
		byState, err = a.source.CountKnowledgeByState()
		return err
	})
	eg.Go(func() (err error) {
		byRole, err = a.source.CountUsersByRole()
		return err
	})
	eg.Go(func() (err error) {
		byClassification, err = a.source.CountKnowledgeByClassification()
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	knowledge := domain.KnowledgeStats{Total: platform.StoredKnowledgeCount}
	for _, gc := range byState {
		switch domain.ApprovalState(gc.Key) {
		case domain.StatePending:
			knowledge.Pending = gc.Count
		case domain.StateApproved:
			knowledge.Approved = gc.Count
		case domain.StateAuthorized:
			knowledge.Authorized = gc.Count
		case domain.StateRejected:
			knowledge.Rejected = gc.Count
		}
	}

	return &domain.PlatformStats{
		Platform:       platform,
		KnowledgeStats: knowledge,
		UserStats: domain.UserStats{
			Total:            platform.RegisteredUsers,
			RoleDistribution: byRole,
		},
		KnowledgeByClassification: byClassification,
	}, nil
}
