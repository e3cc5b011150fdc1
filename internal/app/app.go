// Package app wires configuration into the services, clients and router.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"ai-talks/handler"
	"ai-talks/internal/config"
	"ai-talks/internal/engine"
	"ai-talks/internal/integrations/groq"
	"ai-talks/internal/integrations/openrouter"
	"ai-talks/internal/integrations/paramstore"
	"ai-talks/internal/keys"
	"ai-talks/internal/proxy"
	"ai-talks/internal/repository"
	"ai-talks/internal/security"
	"ai-talks/internal/usecase"
)

var loadAWSConfig = func(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

var newKeyGetter = func(cfg aws.Config) (keys.Getter, error) {
	return paramstore.New(awsssm.NewFromConfig(cfg))
}

type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Store       repository.Store
	Keys        *keys.Resolver
	Chat        *openrouter.Client
	Speaker     *groq.Speaker
	Transcriber *groq.Transcriber
	Proxy       *proxy.Forwarder
	Nonces      *security.NonceStore
	Shares      *usecase.ShareService
	Audio       *usecase.AudioService
	Sweeper     *usecase.SweepService
}

// New builds every component. AWS configuration is only loaded when the
// DynamoDB backend or SSM keys are in use.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	awsCfg := &lazyAWS{}
	store, err := newStore(ctx, cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	var getter keys.Getter
	if strings.TrimSpace(cfg.ParamPrefix) != "" {
		sdkCfg, err := awsCfg.load(ctx)
		if err != nil {
			return nil, err
		}
		getter, err = newKeyGetter(sdkCfg)
		if err != nil {
			return nil, fmt.Errorf("app: create parameter store client: %w", err)
		}
	}
	resolver, err := keys.NewResolver(map[string]string{
		keys.OpenRouter: cfg.OpenRouter.APIKey,
		keys.Groq:       cfg.Groq.APIKey,
	}, getter, cfg.ParamPrefix)
	if err != nil {
		return nil, fmt.Errorf("app: create key resolver: %w", err)
	}
	if getter != nil {
		if err := resolver.Prefetch(ctx, keys.OpenRouter, keys.Groq); err != nil {
			log.WarnContext(ctx, "prefetching api keys failed", "err", err)
		}
	}

	chat, err := openrouter.NewClient(resolver,
		openrouter.WithBaseURL(cfg.OpenRouter.BaseURL),
		openrouter.WithAttribution(cfg.OpenRouter.Referer, cfg.OpenRouter.Title),
	)
	if err != nil {
		return nil, fmt.Errorf("app: create openrouter client: %w", err)
	}
	speaker, err := groq.NewSpeaker(resolver,
		groq.WithBaseURL(cfg.Groq.BaseURL),
		groq.WithModel(cfg.Groq.TTSModel),
		groq.WithFormat(cfg.Groq.TTSFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("app: create groq speaker: %w", err)
	}
	transcriber, err := groq.NewTranscriber(resolver,
		groq.WithTranscriberBaseURL(cfg.Groq.BaseURL),
		groq.WithTranscriberModel(cfg.Groq.STTModel),
		groq.WithTranscriberLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("app: create groq transcriber: %w", err)
	}

	fwd, err := proxy.New(resolver, map[string]proxy.Target{
		proxy.RouteChat: {
			Provider: keys.OpenRouter,
			URL:      chat.BaseURL() + "/chat/completions",
			Headers:  map[string]string{"HTTP-Referer": cfg.OpenRouter.Referer, "X-Title": cfg.OpenRouter.Title},
		},
		proxy.RouteTTS: {
			Provider: keys.Groq,
			URL:      strings.TrimRight(cfg.Groq.BaseURL, "/") + "/audio/speech",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("app: create proxy: %w", err)
	}

	nonces, err := security.NewNonceStore(cfg.Nonce.TTL)
	if err != nil {
		return nil, fmt.Errorf("app: create nonce store: %w", err)
	}
	shares, err := usecase.NewShareService(store, store, cfg.HTTP.PublicBaseURL, cfg.Share.TTL)
	if err != nil {
		return nil, fmt.Errorf("app: create share service: %w", err)
	}
	audio, err := usecase.NewAudioService(store, speaker)
	if err != nil {
		return nil, fmt.Errorf("app: create audio service: %w", err)
	}
	sweeper, err := usecase.NewSweepService(store, cfg.Sweep.Retention)
	if err != nil {
		return nil, fmt.Errorf("app: create sweep service: %w", err)
	}

	return &App{
		Config:      cfg,
		Logger:      log,
		Store:       store,
		Keys:        resolver,
		Chat:        chat,
		Speaker:     speaker,
		Transcriber: transcriber,
		Proxy:       fwd,
		Nonces:      nonces,
		Shares:      shares,
		Audio:       audio,
		Sweeper:     sweeper,
	}, nil
}

func newStore(ctx context.Context, cfg *config.Config, awsCfg *lazyAWS) (repository.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendDynamoDB:
		sdkCfg, err := awsCfg.load(ctx)
		if err != nil {
			return nil, err
		}
		store, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(sdkCfg), cfg.Storage.Table,
			repository.WithItemTTL(cfg.Share.TTL))
		if err != nil {
			return nil, fmt.Errorf("app: create dynamodb store: %w", err)
		}
		return store, nil
	case config.BackendFile, "":
		store, err := repository.NewFileStore(cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("app: create file store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("app: unknown storage backend %q", cfg.Storage.Backend)
	}
}

// NewEngine builds a conversation engine that speaks through Groq and
// records its clips in the store.
func (a *App) NewEngine(opts ...engine.Option) (*engine.Engine, error) {
	ec := a.Config.Engine
	base := []engine.Option{
		engine.WithSynthesizer(a.Speaker),
		engine.WithClipRecorder(a.Store),
		engine.WithLogger(a.Logger),
	}
	return engine.New(a.Chat, engine.Config{
		ThinkingMin:   ec.ThinkingMin,
		ThinkingMax:   ec.ThinkingMax,
		SpeechPause:   ec.SpeechPause,
		TurnPause:     ec.TurnPause,
		HistoryWindow: ec.HistoryWindow,
		MaxTokens:     ec.MaxTokens,
		Temperature:   ec.Temperature,
		EndMarker:     ec.EndMarker,
		MaxTurns:      ec.MaxTurns,
	}, append(base, opts...)...)
}

func (a *App) Handler() (http.Handler, error) {
	h, err := handler.NewHandler(handler.Deps{
		Shares:      a.Shares,
		Audio:       a.Audio,
		Clips:       a.Store,
		Proxy:       a.Proxy,
		Transcriber: a.Transcriber,
		Nonces:      a.Nonces,
		NewSession: func(obs engine.Observer) (handler.LiveSession, error) {
			e, err := a.NewEngine(engine.WithObserver(obs))
			if err != nil {
				return nil, err
			}
			return e, nil
		},
		Logger:           a.Logger,
		AllowedOrigins:   a.Config.HTTP.AllowedOrigins,
		PlaybackFailSafe: a.Config.Playback.FailSafe,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create handler: %w", err)
	}
	return h.Routes(), nil
}

type lazyAWS struct {
	once sync.Once
	cfg  aws.Config
	err  error
}

func (l *lazyAWS) load(ctx context.Context) (aws.Config, error) {
	l.once.Do(func() {
		l.cfg, l.err = loadAWSConfig(ctx)
		if l.err != nil {
			l.err = fmt.Errorf("app: load aws config: %w", l.err)
		}
	})
	return l.cfg, l.err
}
