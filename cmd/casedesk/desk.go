package main

import (
	"errors"
	"fmt"
	"log"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rahul/casedesk/internal/agent"
	"github.com/rahul/casedesk/internal/casework"
	"github.com/rahul/casedesk/internal/datastore"
	"github.com/rahul/casedesk/internal/governance"
	"github.com/rahul/casedesk/internal/notify"
	"github.com/rahul/casedesk/internal/observability"
	"github.com/rahul/casedesk/internal/query"
	"github.com/rahul/casedesk/pkg/config"
)

// newLLM builds the model client for the default provider. Tests replace it.
var newLLM = func(cfg *config.Config) (llms.Model, error) {
	name, p := cfg.GetDefaultProvider()
	switch name {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		return llm, nil
	case "":
		return nil, errors.New("no enabled provider found in config")
	default:
		return nil, fmt.Errorf("provider %s is not supported", name)
	}
}

// desk is the case service and everything it is built from.
type desk struct {
	service  *casework.Service
	notifier *notify.Multi
}

func newDesk(cfg *config.Config, llm llms.Model, logger *observability.Logger, metrics *observability.Metrics) (*desk, error) {
	ds := cfg.Datastore
	ep, err := datastore.Open(ds.Driver, ds.URL, ds.Key, ds.Path, ds.Timeout)
	if err != nil {
		return nil, err
	}
	ep = datastore.NewCachedEndpoint(ep, cfg.Limits.ExistenceCacheSize, cfg.Limits.ExistenceCacheTTL)

	executor, err := query.NewExecutor(query.ExecutorOpts{
		Runner:  ep,
		Policy:  governance.NewSQLPolicyEngine(query.DefaultSchema.TableNames()),
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}

	model := agent.NewModel(llm, cfg.Limits.LLMRPS, logger)
	prompts := agent.NewPromptManager(cfg.PromptsDir)
	planner, err := agent.NewPlanner(agent.PlannerOpts{
		Model:   model,
		Prompts: prompts,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}
	composer, err := agent.NewComposer(model, prompts, logger)
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifiers(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}
	if notifier.Len() == 0 {
		log.Println("casedesk: no escalation channel configured, escalations will fail")
	}

	service, err := casework.NewService(casework.ServiceOpts{
		Planner:  planner,
		Executor: executor,
		Composer: composer,
		Exists:   ep,
		Notifier: notifier,
		Timeout:  cfg.Limits.StatusChangeTimeout,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}
	return &desk{service: service, notifier: notifier}, nil
}

func newNotifiers(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*notify.Multi, error) {
	var required, chat []notify.Notifier
	n := cfg.Notify

	if n.SMTP.Enabled {
		email, err := notify.NewEmailNotifier(notify.EmailOpts{
			Host:     n.SMTP.Host,
			Port:     n.SMTP.Port,
			Username: n.SMTP.Username,
			Password: n.SMTP.Password,
			From:     n.SMTP.From,
			To:       n.SMTP.To,
		})
		if err != nil {
			return nil, err
		}
		required = append(required, email)
	}
	if n.Slack.Enabled {
		slack, err := notify.NewSlackNotifier(n.Slack.Token, n.Slack.Channel)
		if err != nil {
			return nil, err
		}
		chat = append(chat, slack)
	}
	if n.Discord.Enabled {
		discord, err := notify.NewDiscordNotifier(n.Discord.Token, n.Discord.Channel)
		if err != nil {
			return nil, err
		}
		chat = append(chat, discord)
	}
	// Email is the channel of record; chat channels are best-effort.
	return notify.NewMulti(logger, metrics, required...).WithBestEffort(chat...), nil
}
