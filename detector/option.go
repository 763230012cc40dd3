package detector

type Option interface {
	apply(*config)
}

type Options []Option

func (s Options) config() config {
	cfg := config{
		SessionFactory: defaultSessionFactory,
	}
	for _, opt := range s {
		opt.apply(&cfg)
	}
	return cfg
}

type config struct {
	SessionFactory SessionFactory
}

// OptionSessionFactory replaces the inference backend.
type OptionSessionFactory SessionFactory

func (opt OptionSessionFactory) apply(cfg *config) {
	cfg.SessionFactory = SessionFactory(opt)
}
