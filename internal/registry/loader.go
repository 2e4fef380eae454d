package registry

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

// watchFile is the on-disk YAML shape of a watch. The type of trigger, input,
// condition and action is selected by which key is present.
type watchFile struct {
	ID        string            `yaml:"id"`
	Trigger   triggerFile       `yaml:"trigger"`
	Input     inputFile         `yaml:"input"`
	Condition conditionFile     `yaml:"condition"`
	Actions   []actionFile      `yaml:"actions"`
	Metadata  map[string]string `yaml:"metadata"`
}

type triggerFile struct {
	Schedule struct {
		Interval string `yaml:"interval"`
		Cron     string `yaml:"cron"`
		Timezone string `yaml:"timezone"`
	} `yaml:"schedule"`
}

type inputFile struct {
	None   *struct{}      `yaml:"none"`
	Simple map[string]any `yaml:"simple"`
	HTTP   *struct {
		Method  string            `yaml:"method"`
		URL     string            `yaml:"url"`
		Headers map[string]string `yaml:"headers"`
		Body    string            `yaml:"body"`
		Timeout string            `yaml:"timeout"`
	} `yaml:"http"`
}

type conditionFile struct {
	Always  *struct{} `yaml:"always"`
	Never   *struct{} `yaml:"never"`
	Compare *struct {
		Path  string `yaml:"path"`
		Op    string `yaml:"op"`
		Value any    `yaml:"value"`
	} `yaml:"compare"`
}

type actionFile struct {
	ID             string `yaml:"id"`
	ThrottlePeriod string `yaml:"throttle_period"`

	Email *struct {
		Account string   `yaml:"account"`
		From    string   `yaml:"from"`
		To      []string `yaml:"to"`
		Cc      []string `yaml:"cc"`
		Bcc     []string `yaml:"bcc"`
		ReplyTo []string `yaml:"reply_to"`
		Subject string   `yaml:"subject"`
		Body    string   `yaml:"body"`
	} `yaml:"email"`
	Webhook *struct {
		Method  string            `yaml:"method"`
		URL     string            `yaml:"url"`
		Headers map[string]string `yaml:"headers"`
		Body    string            `yaml:"body"`
		Secret  string            `yaml:"secret"`
		Timeout string            `yaml:"timeout"`
	} `yaml:"webhook"`
	Index *struct {
		Partition string `yaml:"partition"`
	} `yaml:"index"`
	Logging *struct {
		Level string `yaml:"level"`
		Text  string `yaml:"text"`
	} `yaml:"logging"`
}

// ParseWatch decodes a single YAML watch definition.
func ParseWatch(data []byte) (domain.Watch, error) {
	var f watchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return domain.Watch{}, errors.Wrap(err, "parse watch")
	}
	return f.toWatch()
}

// LoadFile reads and parses a single YAML watch file.
func LoadFile(path string) (domain.Watch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Watch{}, errors.Wrapf(err, "reading watch file %s", path)
	}
	w, err := ParseWatch(data)
	if err != nil {
		return domain.Watch{}, errors.Wrapf(err, "watch file %s", path)
	}
	if w.ID == "" {
		w.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return w, nil
}

// LoadDir reads every .yaml/.yml file under dir, recursively.
func LoadDir(dir string) ([]domain.Watch, error) {
	var watches []domain.Watch
	seen := make(map[string]string)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		w, err := LoadFile(path)
		if err != nil {
			return err
		}
		if prev, exists := seen[w.ID]; exists {
			return errors.Newf("duplicate watch id %q in %s and %s", w.ID, prev, path)
		}
		seen[w.ID] = path
		watches = append(watches, w)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "loading watches from %s", dir)
	}
	return watches, nil
}

// LoadInto loads every watch under dir into r and returns how many were stored.
func LoadInto(r *Registry, dir string) (int, error) {
	watches, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}
	for _, w := range watches {
		if _, err := r.Put(w); err != nil {
			return 0, err
		}
	}
	return len(watches), nil
}

func (f watchFile) toWatch() (domain.Watch, error) {
	w := domain.Watch{ID: f.ID, Metadata: f.Metadata}

	s := f.Trigger.Schedule
	switch {
	case s.Interval != "" && s.Cron != "":
		return w, errors.Wrap(ErrInvalidWatch, "schedule must set either interval or cron, not both")
	case s.Interval != "":
		d, err := time.ParseDuration(s.Interval)
		if err != nil {
			return w, errors.Wrapf(ErrInvalidWatch, "schedule interval: %v", err)
		}
		w.Trigger = domain.Interval(d)
	case s.Cron != "":
		w.Trigger = domain.Cron(s.Cron)
		w.Trigger.Timezone = s.Timezone
	default:
		return w, errors.Wrap(ErrInvalidWatch, "schedule requires interval or cron")
	}

	switch {
	case f.Input.HTTP != nil:
		timeout, err := parseOptionalDuration(f.Input.HTTP.Timeout)
		if err != nil {
			return w, errors.Wrapf(ErrInvalidWatch, "http input timeout: %v", err)
		}
		w.Input = domain.InputSpec{Type: domain.InputTypeHTTP, HTTP: &domain.HTTPInput{
			Method:  f.Input.HTTP.Method,
			URL:     f.Input.HTTP.URL,
			Headers: f.Input.HTTP.Headers,
			Body:    f.Input.HTTP.Body,
			Timeout: timeout,
		}}
	case f.Input.Simple != nil:
		w.Input = domain.InputSpec{Type: domain.InputTypeSimple, Simple: f.Input.Simple}
	default:
		w.Input = domain.InputSpec{Type: domain.InputTypeNone}
	}

	switch {
	case f.Condition.Compare != nil:
		w.Condition = domain.ConditionSpec{Type: domain.ConditionTypeCompare, Compare: &domain.CompareCondition{
			Path:  f.Condition.Compare.Path,
			Op:    f.Condition.Compare.Op,
			Value: f.Condition.Compare.Value,
		}}
	case f.Condition.Never != nil:
		w.Condition = domain.ConditionSpec{Type: domain.ConditionTypeNever}
	default:
		w.Condition = domain.ConditionSpec{Type: domain.ConditionTypeAlways}
	}

	for _, af := range f.Actions {
		a, err := af.toAction()
		if err != nil {
			return w, err
		}
		w.Actions = append(w.Actions, a)
	}
	return w, nil
}

func (af actionFile) toAction() (domain.ActionSpec, error) {
	a := domain.ActionSpec{ID: af.ID}

	throttle, err := parseOptionalDuration(af.ThrottlePeriod)
	if err != nil {
		return a, errors.Wrapf(ErrInvalidWatch, "action %q throttle_period: %v", af.ID, err)
	}
	a.ThrottlePeriod = throttle

	switch {
	case af.Email != nil:
		a.Type = domain.ActionTypeEmail
		a.Email = &domain.EmailTemplate{
			Account: af.Email.Account,
			From:    af.Email.From,
			To:      af.Email.To,
			Cc:      af.Email.Cc,
			Bcc:     af.Email.Bcc,
			ReplyTo: af.Email.ReplyTo,
			Subject: af.Email.Subject,
			Body:    af.Email.Body,
		}
	case af.Webhook != nil:
		timeout, err := parseOptionalDuration(af.Webhook.Timeout)
		if err != nil {
			return a, errors.Wrapf(ErrInvalidWatch, "action %q webhook timeout: %v", af.ID, err)
		}
		a.Type = domain.ActionTypeWebhook
		a.Webhook = &domain.WebhookAction{
			Method:  af.Webhook.Method,
			URL:     af.Webhook.URL,
			Headers: af.Webhook.Headers,
			Body:    af.Webhook.Body,
			Secret:  af.Webhook.Secret,
			Timeout: timeout,
		}
	case af.Index != nil:
		a.Type = domain.ActionTypeIndex
		a.Index = &domain.IndexAction{Partition: af.Index.Partition}
	case af.Logging != nil:
		if !domain.ValidLogLevel(af.Logging.Level) {
			return a, errors.Wrapf(ErrInvalidWatch, "action %q has unsupported log level %q", af.ID, af.Logging.Level)
		}
		a.Type = domain.ActionTypeLogging
		a.Logging = &domain.LoggingAction{Level: af.Logging.Level, Text: af.Logging.Text}
	default:
		return a, errors.Wrapf(ErrInvalidWatch, "action %q has no type", af.ID)
	}
	return a, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
