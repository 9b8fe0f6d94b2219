// Package email sends workflow notices over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// AppURL is used to build links back to work items.
	AppURL string
}

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart message with a plain-text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return nil
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-taskflow"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// WorkItemData feeds every workflow template.
type WorkItemData struct {
	AppName       string
	RecipientName string
	Kind          string
	Title         string
	ActorName     string
	Status        string
	Reason        string
	URL           string
}

func (s *Service) itemURL(kind, id string) string {
	base := strings.TrimRight(s.config.AppURL, "/")
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s/%ss/%s", base, kind, id)
}

// SendAssignmentEmail tells a user a new task or milestone was assigned to them.
func (s *Service) SendAssignmentEmail(to, recipientName, kind, id, title, actorName string) error {
	data := WorkItemData{
		AppName:       "Taskflow",
		RecipientName: recipientName,
		Kind:          kind,
		Title:         title,
		ActorName:     actorName,
		URL:           s.itemURL(kind, id),
	}
	subject := fmt.Sprintf("New %s assigned: %s", kind, title)
	return s.sendTemplate([]string{to}, subject, assignmentEmailTemplate, data)
}

// SendSubmissionEmail asks reviewers to verify or reject a submitted milestone.
func (s *Service) SendSubmissionEmail(to []string, id, title, actorName string) error {
	data := WorkItemData{
		AppName:   "Taskflow",
		Kind:      "milestone",
		Title:     title,
		ActorName: actorName,
		Status:    "submitted",
		URL:       s.itemURL("milestone", id),
	}
	subject := fmt.Sprintf("Milestone submitted for review: %s", title)
	return s.sendTemplate(to, subject, submissionEmailTemplate, data)
}

// SendVerdictEmail reports a verified or rejected milestone to its team leader.
func (s *Service) SendVerdictEmail(to, recipientName, id, title, status, reason, actorName string) error {
	data := WorkItemData{
		AppName:       "Taskflow",
		RecipientName: recipientName,
		Kind:          "milestone",
		Title:         title,
		ActorName:     actorName,
		Status:        status,
		Reason:        reason,
		URL:           s.itemURL("milestone", id),
	}
	subject := fmt.Sprintf("Milestone %s: %s", status, title)
	return s.sendTemplate([]string{to}, subject, verdictEmailTemplate, data)
}

func (s *Service) sendTemplate(to []string, subject, tmpl string, data WorkItemData) error {
	html, err := renderTemplate(tmpl, data)
	if err != nil {
		return fmt.Errorf("render %q: %w", subject, err)
	}
	return s.SendHTMLEmail(to, subject, plainText(data), html)
}

func plainText(data WorkItemData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", strings.ToUpper(data.Kind[:1])+data.Kind[1:], data.Title)
	if data.Status != "" {
		fmt.Fprintf(&b, "\nStatus: %s", data.Status)
	}
	if data.Reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", data.Reason)
	}
	if data.ActorName != "" {
		fmt.Fprintf(&b, "\nBy: %s", data.ActorName)
	}
	if data.URL != "" {
		fmt.Fprintf(&b, "\n%s", data.URL)
	}
	return b.String()
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
