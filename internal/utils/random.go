package utils

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/mozillazg/go-pinyin"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

var commonSurnames = []string{
	"王", "李", "张", "刘", "陈", "杨", "赵", "黄", "周", "吴",
	"徐", "孙", "胡", "朱", "高", "林", "何", "郭", "马", "罗",
}
var commonNameCharacters = []string{
	"伟", "强", "芳", "敏", "静", "丽", "刚", "杰", "娟", "勇",
	"艳", "涛", "明", "军", "磊", "洋", "勇", "霞", "飞", "玲",
	"超", "华", "平", "辉", "梅", "鑫", "龙", "鹏", "玉", "斌",
	"庆", "建", "丹", "彬", "凤", "旭", "宁", "乐", "成", "欣",
}

func GenerateRandomChineseName() string {
	surname := commonSurnames[rand.Intn(len(commonSurnames))]
	nameLength := rand.Intn(2) + 1
	name := ""

	for i := 0; i < nameLength; i++ {
		name += commonNameCharacters[rand.Intn(len(commonNameCharacters))]
	}
	return surname + name
}

func GenerateRandomRole() domain.Role {
	return domain.Roles[rand.Intn(len(domain.Roles))]
}

var digits = "0123456789"

// GenerateUniqueUserID 由姓名生成用户编号：汉字取拼音前缀，其它字符只保留字母和数字，末尾追加随机数字
func GenerateUniqueUserID(fullName string) string {
	var b strings.Builder

	for _, p := range pinyin.LazyConvert(fullName, nil) {
		length := rand.Intn(len(p)) + 1
		b.WriteString(p[:length])
	}

	if b.Len() == 0 {
		for _, c := range strings.ToLower(fullName) {
			if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
				b.WriteRune(c)
			}
		}
	}
	if b.Len() == 0 {
		b.WriteString("user")
	}

	digitsLength := rand.Intn(3) + 2
	for i := 0; i < digitsLength; i++ {
		b.WriteByte(digits[rand.Intn(len(digits))])
	}

	return b.String()
}

var divisions = []string{"Consulting", "Governance", "Operations", "Research", "Training"}

func GenerateRandomUser(password string, emailDomainName string) (*domain.User, error) {
	fullName := GenerateRandomChineseName()
	uniqueUserID := GenerateUniqueUserID(fullName)
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	role := GenerateRandomRole()
	profile, err := GenerateRandomProfile(role)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		UniqueUserID: uniqueUserID,
		PasswordHash: string(passwordHash),
		FullName:     fullName,
		Email:        uniqueUserID + "@" + emailDomainName,
		Division:     divisions[rand.Intn(len(divisions))],
		Role:         role,
		Profile:      profile,
	}

	return user, nil
}

// GenerateRandomProfile 生成满足取值范围的角色附加字段
func GenerateRandomProfile(role domain.Role) (domain.RoleProfile, error) {
	profile, err := domain.NewProfile(role)
	if err != nil {
		return nil, err
	}

	switch p := profile.(type) {
	case *domain.ConsultantProfile:
		p.SpecialisationField = classifications[rand.Intn(len(classifications))]
		p.AssignedProject = "PRJ-" + GenerateRandomID(0, 4)
	case *domain.GovernanceProfile:
		score := rand.Intn(101)
		p.ComplianceScore = &score
		p.InspectionInterval = []string{"weekly", "monthly", "quarterly"}[rand.Intn(3)]
	case *domain.ExecutiveProfile:
		p.PrivilegeLevel = []string{"regional", "global"}[rand.Intn(2)]
	case *domain.ControllerProfile:
		tier := rand.Intn(5) + 1
		p.ControlTier = &tier
		p.AccessRights = []string{"users", "knowledge"}
	case *domain.StaffProfile:
		p.TrainingPhase = []string{"induction", "intermediate", "advanced"}[rand.Intn(3)]
	}

	return profile, nil
}

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*")

func GenerateRandomPassword(length int) string {
	random_password := make([]rune, length)
	for i := range random_password {
		random_password[i] = letters[rand.Intn(len(letters))]
	}
	return string(random_password)
}

func GenerateRandomID(letterLength int, digitLength int) string {
	random_id := make([]rune, letterLength+digitLength)
	for i := range random_id {
		if i < letterLength {
			random_id[i] = letters[rand.Intn(52)] // 只取字母
		} else {
			random_id[i] = rune(digits[rand.Intn(len(digits))])
		}
	}
	return string(random_id)
}

var classifications = []string{"Process", "Guide", "FAQ", "Policy", "Case Study", "Template"}

var keywordPool = []string{
	"onboarding", "compliance", "audit", "risk", "client", "delivery",
	"architecture", "security", "training", "reporting", "governance", "pricing",
}

// GenerateRandomKnowledge 生成随机的知识资源内容，正文长度覆盖评分规则的各个区间
func GenerateRandomKnowledge() (heading, body, classification string, rating float64, keywords []string) {
	classification = classifications[rand.Intn(len(classifications))]
	heading = fmt.Sprintf("%s %s", classification, GenerateRandomID(4, 3))

	paragraphs := rand.Intn(8) + 1
	var b strings.Builder
	for i := 0; i < paragraphs; i++ {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## Section %d\n\n", i+1)
		b.WriteString(strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", rand.Intn(6)+1))
	}
	body = b.String()

	rating = float64(rand.Intn(11)) / 2 // 0, 0.5, ..., 5

	n := rand.Intn(4) + 1
	for _, i := range rand.Perm(len(keywordPool))[:n] {
		keywords = append(keywords, keywordPool[i])
	}

	return heading, body, classification, rating, keywords
}
