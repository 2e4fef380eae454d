package actions

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/easy-watcher/internal/domain"
	"github.com/djlord-it/easy-watcher/internal/template"
)

// Transport delivers a rendered email through the named account.
type Transport interface {
	Send(ctx context.Context, account string, msg domain.Email) error
}

// EmailExecutor renders the email template and hands the message to the
// transport. The rendered message is recorded even when delivery fails.
type EmailExecutor struct {
	transport      Transport
	defaultAccount string
}

func NewEmailExecutor(transport Transport, defaultAccount string) *EmailExecutor {
	return &EmailExecutor{transport: transport, defaultAccount: defaultAccount}
}

func (e *EmailExecutor) Type() domain.ActionType { return domain.ActionTypeEmail }

func (e *EmailExecutor) Execute(ctx context.Context, ectx *domain.ExecutionContext, spec domain.ActionSpec) domain.ActionResult {
	if spec.Email == nil {
		return domain.Failure(spec, "email action has no template")
	}

	account := spec.Email.Account
	if account == "" {
		account = e.defaultAccount
	}

	msg, err := RenderEmail(spec.Email, template.Model(ectx))
	if err != nil {
		res := domain.Failure(spec, err.Error())
		res.Email = &domain.EmailResult{Account: account, Message: unrendered(spec.Email)}
		return res
	}

	res := domain.ActionResult{
		ID:    spec.ID,
		Type:  spec.Type,
		Email: &domain.EmailResult{Account: account, Message: msg},
	}

	if len(msg.To)+len(msg.Cc)+len(msg.Bcc) == 0 {
		res.Status = domain.ActionStatusFailure
		res.Reason = "email has no recipients"
		return res
	}

	if err := e.transport.Send(ctx, account, msg); err != nil {
		res.Status = domain.ActionStatusFailure
		res.Reason = err.Error()
		return res
	}
	res.Status = domain.ActionStatusSuccess
	return res
}

// unrendered keeps the template text so a failed render still records who
// the message was meant for.
func unrendered(tpl *domain.EmailTemplate) domain.Email {
	return domain.Email{
		From:    tpl.From,
		To:      slices.Clone(tpl.To),
		Cc:      slices.Clone(tpl.Cc),
		Bcc:     slices.Clone(tpl.Bcc),
		ReplyTo: slices.Clone(tpl.ReplyTo),
		Subject: tpl.Subject,
		Body:    tpl.Body,
	}
}

// RenderEmail resolves every placeholder of tpl. Address lists keep their
// order and duplicates.
func RenderEmail(tpl *domain.EmailTemplate, model map[string]any) (domain.Email, error) {
	var msg domain.Email
	var err error

	if msg.From, err = template.Render(tpl.From, model); err != nil {
		return domain.Email{}, errors.Wrap(err, "render from")
	}
	if msg.To, err = template.RenderAll(tpl.To, model); err != nil {
		return domain.Email{}, errors.Wrap(err, "render to")
	}
	if msg.Cc, err = template.RenderAll(tpl.Cc, model); err != nil {
		return domain.Email{}, errors.Wrap(err, "render cc")
	}
	if msg.Bcc, err = template.RenderAll(tpl.Bcc, model); err != nil {
		return domain.Email{}, errors.Wrap(err, "render bcc")
	}
	if msg.ReplyTo, err = template.RenderAll(tpl.ReplyTo, model); err != nil {
		return domain.Email{}, errors.Wrap(err, "render reply_to")
	}
	if msg.Subject, err = template.Render(tpl.Subject, model); err != nil {
		return domain.Email{}, errors.Wrap(err, "render subject")
	}
	if msg.Body, err = template.Render(tpl.Body, model); err != nil {
		return domain.Email{}, errors.Wrap(err, "render body")
	}
	return msg, nil
}
