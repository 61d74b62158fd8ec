package seed

import (
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/workflow"
)

type fakeOwners struct {
	users   map[string]*domain.User
	lookups int
}

func (f *fakeOwners) GetUserByEmail(email string) (*domain.User, error) {
	f.lookups++
	u, ok := f.users[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

type recordingCreator struct {
	created []workflow.NewKnowledge
	actors  []workflow.Actor
}

func (c *recordingCreator) Create(actor workflow.Actor, in workflow.NewKnowledge) (*domain.KnowledgeResource, error) {
	// 与真实 service 一样，validator 不能创建资源
	if actor.Role == domain.RoleValidator {
		return nil, domain.ErrForbidden
	}
	c.created = append(c.created, in)
	c.actors = append(c.actors, actor)
	return &domain.KnowledgeResource{ID: int64(len(c.created))}, nil
}

func TestImportKnowledge(t *testing.T) {
	owners := &fakeOwners{users: map[string]*domain.User{
		"c@example.com": {ID: 1, Role: domain.RoleConsultant},
		"v@example.com": {ID: 2, Role: domain.RoleValidator},
	}}
	creator := &recordingCreator{}

	csv := strings.Join([]string{
		"heading,dataBody,classification,ownerEmail,keywords,userRating",
		`Onboarding,"Steps, in order",Process,c@example.com,"onboarding, process",4.5`,
		"Second,Body,Guide,c@example.com,,",
		"Bad rating,Body,Guide,c@example.com,,9",
		"Unknown owner,Body,Guide,nobody@example.com,,",
		"Forbidden,Body,Guide,v@example.com,,",
	}, "\n")

	result, err := ImportKnowledge(strings.NewReader(csv), owners, creator)
	require.NoError(t, err)

	assert.Equal(t, &Result{Imported: 2, Skipped: 3}, result)
	require.Len(t, creator.created, 2)
	assert.Equal(t, "Steps, in order", creator.created[0].DataBody)
	assert.Equal(t, []string{"onboarding", "process"}, creator.created[0].Keywords)
	assert.Equal(t, 4.5, *creator.created[0].UserRating)
	assert.Nil(t, creator.created[1].UserRating)
	assert.Equal(t, workflow.Actor{UserID: 1, Role: domain.RoleConsultant}, creator.actors[0])

	// 同一个邮箱只查询一次
	assert.Equal(t, 3, owners.lookups)
}

func TestImportKnowledgeMissingColumns(t *testing.T) {
	_, err := ImportKnowledge(strings.NewReader("heading,dataBody\nA,B\n"), &fakeOwners{}, &recordingCreator{})
	assert.EqualError(t, err, "missing columns: classification, ownerEmail")
}
