package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
)

// SplitKeywords 拆分以逗号、分号或竖线分隔的关键词
func SplitKeywords(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '|' || r == '，' || r == '；'
	})

	keywords := make([]string, 0, len(fields))
	for _, field := range fields {
		if field = strings.TrimSpace(field); field != "" {
			keywords = append(keywords, field)
		}
	}
	return keywords
}

// ParseRating 解析评分，空字符串返回 nil
func ParseRating(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	rating, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: rating %q is not a number", domain.ErrValidation, raw)
	}
	if !(rating >= domain.MinRating && rating <= domain.MaxRating) {
		return nil, fmt.Errorf("%w: rating %v must be between %d and %d", domain.ErrValidation, rating, domain.MinRating, domain.MaxRating)
	}

	return &rating, nil
}

// ValidateImportHeaders 检查导入文件是否包含所有必需的列
func ValidateImportHeaders(headers []string, required []string) error {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[strings.TrimSpace(h)] = true
	}

	missing := []string{}
	for _, r := range required {
		if !present[r] {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return errors.New("missing columns: " + strings.Join(missing, ", "))
	}

	return nil
}
