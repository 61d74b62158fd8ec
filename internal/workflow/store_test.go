package workflow

import (
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
)

// memStore 是 Store 的内存实现，流转语义与 Postgres 的 compare-and-set 一致
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	users      map[int64]*domain.User
	resources  map[int64]*domain.KnowledgeResource
	keywords   map[int64][]string
	rejections []*domain.Rejection
}

func newMemStore(users ...*domain.User) *memStore {
	s := &memStore{
		users:     make(map[int64]*domain.User),
		resources: make(map[int64]*domain.KnowledgeResource),
		keywords:  make(map[int64][]string),
	}
	for _, u := range users {
		if u.Profile == nil {
			u.Profile, _ = domain.NewProfile(u.Role)
		}
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) CreateKnowledge(k *domain.KnowledgeResource, keywords []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	k.ID = s.nextID
	k.CreatedAt = time.Now()
	k.UpdatedAt = k.CreatedAt
	k.Version = 1
	k.Keywords = keywords

	stored := *k
	s.resources[k.ID] = &stored
	s.keywords[k.ID] = slices.Clone(keywords)
	return nil
}

func (s *memStore) GetKnowledgeByID(id int64) (*domain.KnowledgeResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.resources[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *k
	copied.Keywords = slices.Clone(s.keywords[id])
	if owner, ok := s.users[k.CreatedBy]; ok {
		copied.Owner = &domain.UserSummary{ID: owner.ID, FullName: owner.FullName, Email: owner.Email, Role: owner.Role}
	}
	return &copied, nil
}

func (s *memStore) GetKnowledgeKeywords(id int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.keywords[id]), nil
}

func (s *memStore) ListKnowledge(filter domain.KnowledgeFilter) ([]*domain.KnowledgeResource, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.resources))
	for id := range s.resources {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	matched := make([]*domain.KnowledgeResource, 0)
	for _, id := range ids {
		k := s.resources[id]
		if filter.Classification != "" && k.Classification != filter.Classification {
			continue
		}
		if filter.ApprovalState != "" && k.ApprovalState != filter.ApprovalState {
			continue
		}
		if filter.CreatedBy != 0 && k.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.Keyword != "" && !slices.Contains(s.keywords[id], filter.Keyword) {
			continue
		}
		v := filter.Visibility
		if !v.All && k.CreatedBy != v.OwnerID && !slices.Contains(v.States, k.ApprovalState) {
			continue
		}
		copied := *k
		copied.Keywords = slices.Clone(s.keywords[id])
		matched = append(matched, &copied)
	}

	total := int64(len(matched))
	start := min((filter.Page-1)*filter.Limit, len(matched))
	end := min(start+filter.Limit, len(matched))
	return matched[start:end], total, nil
}

func (s *memStore) UpdateKnowledge(k *domain.KnowledgeResource, keywords []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.resources[k.ID]
	if !ok || stored.Version != k.Version {
		return sql.ErrNoRows
	}

	stored.Heading = k.Heading
	stored.DataBody = k.DataBody
	stored.Classification = k.Classification
	stored.UserRating = k.UserRating
	stored.RevisionNumber = k.RevisionNumber
	stored.Version++
	stored.UpdatedAt = time.Now()

	k.ApprovalState = stored.ApprovalState
	k.AccessCount = stored.AccessCount
	k.Version = stored.Version
	k.UpdatedAt = stored.UpdatedAt

	if keywords != nil {
		s.keywords[k.ID] = slices.Clone(keywords)
		k.Keywords = keywords
	}
	return nil
}

func (s *memStore) DeleteKnowledge(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.resources, id)
	delete(s.keywords, id)
	return nil
}

func (s *memStore) IncrementAccessCount(id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.resources[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	k.AccessCount++
	return k.AccessCount, nil
}

func (s *memStore) TransitionKnowledge(t domain.Transition) (*domain.KnowledgeResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.resources[t.ResourceID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if k.ApprovalState != t.From {
		return nil, fmt.Errorf("%w: resource is %s, expected %s", domain.ErrInvalidState, k.ApprovalState, t.From)
	}

	k.ApprovalState = t.To
	k.Version++
	k.UpdatedAt = time.Now()

	if t.CreditValidator {
		if u, ok := s.users[t.ActorID]; ok {
			if p, ok := u.Profile.(*domain.ValidatorProfile); ok {
				p.ApprovedSubmissions++
			}
		}
	}
	if t.To == domain.StateRejected {
		s.rejections = append(s.rejections, &domain.Rejection{
			ID:                  int64(len(s.rejections) + 1),
			KnowledgeResourceID: t.ResourceID,
			RejectedBy:          t.ActorID,
			Reason:              t.Reason,
			CreatedAt:           time.Now(),
		})
	}

	copied := *k
	return &copied, nil
}

func (s *memStore) ListRejections(resourceID int64) ([]*domain.Rejection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*domain.Rejection, 0)
	for _, r := range s.rejections {
		if r.KnowledgeResourceID == resourceID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *memStore) GetUserByID(id int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (s *memStore) approvedSubmissions(userID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[userID].Profile.(*domain.ValidatorProfile)
	if !ok {
		return -1
	}
	return p.ApprovedSubmissions
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []domain.MailMessage
	err      error
}

func (n *recordingNotifier) Publish(msg domain.MailMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.messages = append(n.messages, msg)
	return n.err
}

type countingRefresher struct {
	mu    sync.Mutex
	calls int
}

func (r *countingRefresher) RefreshPlatform() (*domain.Platform, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	return &domain.Platform{}, nil
}
