// Package seed 从 CSV 文件批量导入知识资源
package seed

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/utils"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/workflow"
)

var requiredColumns = []string{"heading", "dataBody", "classification", "ownerEmail"}

// 导入文件中同一个创建者通常会出现很多次
const ownerCacheSize = 256

// OwnerLookup 根据邮箱找到资源创建者
type OwnerLookup interface {
	GetUserByEmail(email string) (*domain.User, error)
}

// Creator 是 workflow.Service 中导入需要的部分
type Creator interface {
	Create(actor workflow.Actor, in workflow.NewKnowledge) (*domain.KnowledgeResource, error)
}

type Result struct {
	Imported int
	Skipped  int
}

// ImportKnowledge 逐行导入资源，每一行都以 ownerEmail 对应用户的身份创建，因此遵守同样的权限和校验规则。
// 出错的行会被跳过并记录日志，只有文件本身无法读取时才返回错误。
//
// 列：heading, dataBody, classification, ownerEmail，可选 keywords（逗号分隔）和 userRating
func ImportKnowledge(r io.Reader, owners OwnerLookup, creator Creator) (*Result, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	// 读取表头
	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := utils.ValidateImportHeaders(headers, requiredColumns); err != nil {
		return nil, err
	}

	result := &Result{}
	owners = newCachedLookup(owners)

	for line := 2; ; line++ {
		row, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return result, fmt.Errorf("read line %d: %w", line, err)
		}

		record := make(map[string]string, len(headers))
		for i, value := range row {
			if i < len(headers) {
				record[strings.TrimSpace(headers[i])] = value
			}
		}

		if err := importRecord(record, owners, creator); err != nil {
			slog.Warn("跳过无法导入的行", slog.Int("line", line), slog.String("error", err.Error()))
			result.Skipped++
			continue
		}
		result.Imported++
	}

	slog.Info("导入知识资源完成", slog.Int("imported", result.Imported), slog.Int("skipped", result.Skipped))
	return result, nil
}

func importRecord(record map[string]string, owners OwnerLookup, creator Creator) error {
	email := strings.TrimSpace(record["ownerEmail"])
	if email == "" {
		return fmt.Errorf("%w: ownerEmail is required", domain.ErrValidation)
	}

	owner, err := owners.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: owner %s", domain.ErrNotFound, email)
		}
		return err
	}

	rating, err := utils.ParseRating(record["userRating"])
	if err != nil {
		return err
	}

	_, err = creator.Create(workflow.Actor{UserID: owner.ID, Role: owner.Role}, workflow.NewKnowledge{
		Heading:        record["heading"],
		DataBody:       record["dataBody"],
		Classification: record["classification"],
		UserRating:     rating,
		Keywords:       utils.SplitKeywords(record["keywords"]),
	})
	return err
}

type cachedLookup struct {
	next  OwnerLookup
	users *lru.LRU[string, *domain.User]
}

func newCachedLookup(next OwnerLookup) *cachedLookup {
	return &cachedLookup{
		next:  next,
		users: lru.NewLRU[string, *domain.User](ownerCacheSize, nil, 0),
	}
}

func (c *cachedLookup) GetUserByEmail(email string) (*domain.User, error) {
	if u, ok := c.users.Get(email); ok {
		return u, nil
	}
	u, err := c.next.GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	c.users.Add(email, u)
	return u, nil
}
