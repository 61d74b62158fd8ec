package main

import (
	"fmt"
	"html/template"
	"path/filepath"

	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
	"github.com/wneessen/go-mail"
)

type mailTemplate struct {
	file    string
	subject string
}

var mailTemplates = map[string]mailTemplate{
	domain.MailTypeCreateUser:        {file: "new_account_email.html", subject: "DKN 知识平台 - 账户信息"},
	domain.MailTypeKnowledgeDecision: {file: "knowledge_decision_email.html", subject: "DKN 知识平台 - 审批结果"},
}

type composer struct {
	from        string
	templateDir string
}

// compose 根据邮件类型选择模板并生成邮件
func (c *composer) compose(mm domain.MailMessage) (*mail.Msg, error) {
	mt, ok := mailTemplates[mm.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported mail type %q", mm.Type)
	}

	m := mail.NewMsg()
	if err := m.From(c.from); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := m.To(mm.To); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}

	tmpl, err := template.ParseFiles(filepath.Join(c.templateDir, mt.file))
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	if err := m.SetBodyHTMLTemplate(tmpl, mm.Data); err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}
	m.Subject(mt.subject)

	return m, nil
}
