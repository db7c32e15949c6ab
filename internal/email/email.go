package email

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"html/template"
	"math/big"
	"net/smtp"
	"time"

	"serverlist-backend/internal/models"
	"serverlist-backend/internal/quotes"

	"go.uber.org/zap"
)

const (
	codeLength = 6
	codeTTL    = 10 * time.Minute

	subject = "Email verification code"
)

// CodeStore is where pending verification codes live until used or expired.
type CodeStore interface {
	Set(ctx context.Context, key string, val string, expires time.Duration) error
	GetDel(ctx context.Context, key string) (string, error)
}

type QuoteSource interface {
	Take(ctx context.Context) (quotes.Sentence, error)
	Refill(ctx context.Context)
}

// Transport delivers one finished html message.
type Transport interface {
	Send(ctx context.Context, to string, subject string, body string) error
}

type SMTPTransport struct {
	server   string
	address  string
	username string
	password string
	from     string
}

func NewSMTPTransport(cfg *models.ConfigFile) *SMTPTransport {
	from := cfg.SmtpFrom
	if from == "" {
		from = cfg.SmtpUsername
	}
	return &SMTPTransport{
		server:   cfg.SmtpServer,
		address:  fmt.Sprintf("%s:%s", cfg.SmtpServer, cfg.SmtpPort),
		username: cfg.SmtpUsername,
		password: cfg.SmtpPassword,
		from:     from,
	}
}

// Send ignores ctx, net/smtp has no way to cancel a running exchange.
func (t *SMTPTransport) Send(_ context.Context, to string, subject string, body string) error {
	auth := smtp.PlainAuth("", t.username, t.password, t.server)

	msg := fmt.Appendf(nil, "From: %s\r\n", t.from)
	msg = fmt.Appendf(msg, "To: %s\r\n", to)
	msg = fmt.Append(msg, "MIME-version: 1.0;\r\n")
	msg = fmt.Append(msg, "Content-Type: text/html; charset=\"UTF-8\";\r\n")
	msg = fmt.Appendf(msg, "Subject: %s\r\n", subject)
	msg = fmt.Append(msg, "\r\n")
	msg = fmt.Appendf(msg, "%s\r\n", body)

	return smtp.SendMail(t.address, auth, t.from, []string{to}, msg)
}

var codeTemplate = template.Must(template.New("code").Parse(`
<html>
	<body>
		<h2>Your verification code</h2>
		<p style="font-size: 24px; letter-spacing: 4px;"><b>{{.Code}}</b></p>
		<p>The code is valid for 10 minutes.</p>
		<blockquote>{{.Sentence}} <i>- {{.From}}{{if .FromWho}} / {{.FromWho}}{{end}}</i></blockquote>
		<p>&copy; {{.Year}}</p>
	</body>
</html>`))

type codeMessage struct {
	Code     string
	Sentence string
	From     string
	FromWho  string
	Year     int
}

type Sender struct {
	sugar     *zap.SugaredLogger
	codes     CodeStore
	quotes    QuoteSource
	transport Transport
}

func NewSender(sugar *zap.SugaredLogger, codes CodeStore, quotes QuoteSource, transport Transport) *Sender {
	return &Sender{
		sugar:     sugar,
		codes:     codes,
		quotes:    quotes,
		transport: transport,
	}
}

func codeKey(email string) string {
	return "email:code:" + email
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeLength, n.Int64()), nil
}

// SendVerificationCode stores a fresh code for to, replacing any earlier one,
// and mails it together with a sentence from the quote queue.
func (s *Sender) SendVerificationCode(ctx context.Context, to string) error {
	code, err := generateCode()
	if err != nil {
		return err
	}

	if err := s.codes.Set(ctx, codeKey(to), code, codeTTL); err != nil {
		return err
	}

	sentence, err := s.quotes.Take(ctx)
	if err != nil {
		s.sugar.Warnw("no sentence in time, using the default", "error", err)
		sentence = quotes.DefaultSentence
	}

	// top the queue back up without holding up this request
	go s.quotes.Refill(context.WithoutCancel(ctx))

	message := codeMessage{
		Code:     code,
		Sentence: sentence.Hitokoto,
		From:     sentence.From,
		Year:     time.Now().Year(),
	}
	if sentence.FromWho != nil {
		message.FromWho = *sentence.FromWho
	}

	var body bytes.Buffer
	if err := codeTemplate.Execute(&body, message); err != nil {
		return err
	}

	if err := s.transport.Send(ctx, to, subject, body.String()); err != nil {
		return fmt.Errorf("sending verification code to %s: %w", to, err)
	}

	s.sugar.Debugf("Sent verification code to [%s]", to)
	return nil
}

// VerifyCode consumes the stored code, so a wrong guess also needs a new
// code to be requested.
func (s *Sender) VerifyCode(ctx context.Context, email string, code string) (bool, error) {
	stored, err := s.codes.GetDel(ctx, codeKey(email))
	if err != nil {
		return false, err
	}
	if stored == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(code)) == 1, nil
}
