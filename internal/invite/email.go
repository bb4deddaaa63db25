package invite

import (
	"fmt"
	"log"
	"net/smtp"
)

type EmailSender interface {
	Send(to, subject, body string) error
}

// LogEmailSender prints the mail to the log. Default in development.
type LogEmailSender struct{}

func (LogEmailSender) Send(to, subject, body string) error {
	log.Printf("collab-service: dev email to %s, subject %q\n%s", to, subject, body)
	return nil
}

type SMTPSender struct {
	host     string
	port     string
	username string
	password string
	from     string
}

func NewSMTPSender(host, port, username, password, from string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

func (s *SMTPSender) Send(to, subject, body string) error {
	addr := s.host + ":" + s.port

	auth := smtp.PlainAuth("", s.username, s.password, s.host)

	msg := []byte(
		fmt.Sprintf("From: %s\r\n", s.from) +
			fmt.Sprintf("To: %s\r\n", to) +
			fmt.Sprintf("Subject: %s\r\n", subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=UTF-8\r\n" +
			"\r\n" +
			body + "\r\n",
	)

	return smtp.SendMail(addr, auth, s.from, []string{to}, msg)
}
