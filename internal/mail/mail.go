// Package mail delivers rendered watch emails over SMTP accounts.
package mail

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	gomail "github.com/wneessen/go-mail"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

var ErrUnknownAccount = errors.New("unknown email account")

const defaultTimeout = 15 * time.Second

// Account is one configured SMTP account.
type Account struct {
	ID       string
	Host     string
	Port     int
	Username string
	Password string
	// Auth is the SMTP auth mechanism: plain, login, cram-md5 or empty for none.
	Auth string
	// TLS is mandatory, opportunistic (default) or none.
	TLS string
	// From is used when the rendered message has no sender.
	From    string
	Timeout time.Duration
}

type deliverFunc func(ctx context.Context, acct Account, msg *gomail.Msg) error

// Service sends messages through named accounts. It implements
// actions.Transport.
type Service struct {
	accounts       map[string]Account
	defaultAccount string
	deliver        deliverFunc
}

func NewService(accounts []Account, defaultAccount string) (*Service, error) {
	s := &Service{
		accounts:       make(map[string]Account, len(accounts)),
		defaultAccount: defaultAccount,
		deliver:        dialAndSend,
	}
	for _, a := range accounts {
		if a.ID == "" {
			return nil, errors.New("email account without id")
		}
		if a.Host == "" {
			return nil, errors.Newf("email account %q has no smtp host", a.ID)
		}
		if _, dup := s.accounts[a.ID]; dup {
			return nil, errors.Newf("duplicate email account %q", a.ID)
		}
		s.accounts[a.ID] = a
	}
	if defaultAccount != "" {
		if _, ok := s.accounts[defaultAccount]; !ok {
			return nil, errors.Wrapf(ErrUnknownAccount, "default account %q", defaultAccount)
		}
	} else if len(accounts) == 1 {
		s.defaultAccount = accounts[0].ID
	}
	return s, nil
}

// DefaultAccount is the account used when an action names none.
func (s *Service) DefaultAccount() string { return s.defaultAccount }

func (s *Service) Send(ctx context.Context, account string, msg domain.Email) error {
	if account == "" {
		account = s.defaultAccount
	}
	acct, ok := s.accounts[account]
	if !ok {
		return errors.Wrapf(ErrUnknownAccount, "%q", account)
	}

	m, err := BuildMessage(acct, msg)
	if err != nil {
		return err
	}
	if err := s.deliver(ctx, acct, m); err != nil {
		return errors.Wrapf(err, "send via account %s", acct.ID)
	}
	return nil
}

// BuildMessage converts a rendered email into a go-mail message.
func BuildMessage(acct Account, msg domain.Email) (*gomail.Msg, error) {
	m := gomail.NewMsg()

	from := msg.From
	if from == "" {
		from = acct.From
	}
	if err := m.From(from); err != nil {
		return nil, errors.Wrapf(err, "from %q", from)
	}
	if len(msg.To) > 0 {
		if err := m.To(msg.To...); err != nil {
			return nil, errors.Wrap(err, "to")
		}
	}
	if len(msg.Cc) > 0 {
		if err := m.Cc(msg.Cc...); err != nil {
			return nil, errors.Wrap(err, "cc")
		}
	}
	if len(msg.Bcc) > 0 {
		if err := m.Bcc(msg.Bcc...); err != nil {
			return nil, errors.Wrap(err, "bcc")
		}
	}
	if len(msg.ReplyTo) > 0 {
		m.SetGenHeader(gomail.HeaderReplyTo, strings.Join(msg.ReplyTo, ", "))
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)
	return m, nil
}

func dialAndSend(ctx context.Context, acct Account, m *gomail.Msg) error {
	opts, err := clientOptions(acct)
	if err != nil {
		return err
	}
	client, err := gomail.NewClient(acct.Host, opts...)
	if err != nil {
		return errors.Wrap(err, "smtp client")
	}
	return client.DialAndSendWithContext(ctx, m)
}

func clientOptions(acct Account) ([]gomail.Option, error) {
	timeout := acct.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	opts := []gomail.Option{gomail.WithTimeout(timeout)}
	if acct.Port > 0 {
		opts = append(opts, gomail.WithPort(acct.Port))
	}

	switch strings.ToLower(acct.TLS) {
	case "", "opportunistic":
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	case "mandatory":
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	case "none":
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	default:
		return nil, errors.Newf("account %s: unknown tls policy %q", acct.ID, acct.TLS)
	}

	switch strings.ToLower(acct.Auth) {
	case "":
	case "plain":
		opts = append(opts, gomail.WithSMTPAuth(gomail.SMTPAuthPlain))
	case "login":
		opts = append(opts, gomail.WithSMTPAuth(gomail.SMTPAuthLogin))
	case "cram-md5":
		opts = append(opts, gomail.WithSMTPAuth(gomail.SMTPAuthCramMD5))
	default:
		return nil, errors.Newf("account %s: unknown smtp auth %q", acct.ID, acct.Auth)
	}
	if acct.Username != "" {
		opts = append(opts, gomail.WithUsername(acct.Username), gomail.WithPassword(acct.Password))
	}
	return opts, nil
}
