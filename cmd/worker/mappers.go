package main

import (
	"time"

	"go.uber.org/zap"

	"legal-intake-orchestrator/internal/config"
	"legal-intake-orchestrator/internal/domain"
	"legal-intake-orchestrator/internal/mapping"
	"legal-intake-orchestrator/internal/openai"
	appTemporal "legal-intake-orchestrator/internal/temporal"
)

// newMappers builds one mapper per form type. The LLM extractor is prompted
// per form type, so the chain differs between legal texts and procedures.
func newMappers(cfg config.Config, llm openai.Client, timeout time.Duration, logger *zap.Logger) appTemporal.MapperFor {
	mappers := make(map[domain.FormType]*mapping.Mapper, 2)
	for _, formType := range []domain.FormType{domain.FormLegal, domain.FormProcedure} {
		mappers[formType] = mapping.NewMapper(entityExtractor(cfg, llm, formType, timeout, logger), cfg.MappingAutoAccept, logger)
	}
	return func(formType domain.FormType) *mapping.Mapper {
		return mappers[formType]
	}
}

func entityExtractor(cfg config.Config, llm openai.Client, formType domain.FormType, timeout time.Duration, logger *zap.Logger) mapping.EntityExtractor {
	rules := mapping.NewRuleExtractor()
	if llm == nil {
		return rules
	}
	model := openai.NewEntityExtractor(llm, formType, cfg.OpenAIModel, timeout, cfg.OpenAIMaxRetry, logger)
	switch cfg.EntityExtractor {
	case config.ExtractorLLM:
		return model
	case config.ExtractorChain:
		return mapping.Chain{rules, model}
	default:
		return rules
	}
}
