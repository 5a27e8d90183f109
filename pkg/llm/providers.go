package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/clinsight-health/clinsight-engine/pkg/jsonutil"
	"github.com/clinsight-health/clinsight-engine/pkg/retry"
)

const draftSystemMessage = `You are a clinical analytics engineer. You turn a natural-language question and its working SQL into a reusable, parameterized query template for a SQL Server reporting database (schema prefix rpt.).

Respond with a single JSON object:
{
  "name": "snake_case template name",
  "intent": "one of: aggregation_by_category, time_series_trend, top_k, latest_per_entity, as_of_state, pivot, unpivot, note_collection, join_analysis",
  "description": "one sentence",
  "sql_pattern": "the SQL with literal values replaced by {placeholder} tokens",
  "placeholders_spec": {"slots": [{"name": "...", "type": "guid|int|string|date|boolean|float|decimal", "semantic": "...", "required": true}]},
  "keywords": ["..."],
  "tags": ["..."],
  "examples": ["..."],
  "warnings": ["anything you could not map cleanly"]
}
Return ONLY the JSON object, no other text.`

const subQuestionSystemMessage = `You are a clinical analytics engineer. Decompose the user's question into the smallest ordered sequence of sub-questions that can each be answered with one SQL query against the reporting database.

Respond with a single JSON object:
{"sub_questions": [{"question_text": "...", "order": 1}]}
Return ONLY the JSON object, no other text.`

// rawDraft is the loosely-typed wire shape of a draft response. Models drift
// on field types, so everything is decoded as any and coerced.
type rawDraft struct {
	Name             any `json:"name"`
	Intent           any `json:"intent"`
	Description      any `json:"description"`
	SQLPattern       any `json:"sql_pattern"`
	PlaceholdersSpec any `json:"placeholders_spec"`
	Keywords         any `json:"keywords"`
	Tags             any `json:"tags"`
	Examples         any `json:"examples"`
	Warnings         any `json:"warnings"`
}

// draftProvider implements DraftProvider over an LLMClient.
type draftProvider struct {
	client LLMClient
	logger *zap.Logger
}

// NewDraftProvider creates a DraftProvider backed by the given client.
func NewDraftProvider(client LLMClient, logger *zap.Logger) DraftProvider {
	return &draftProvider{client: client, logger: logger.Named("draft-provider")}
}

var _ DraftProvider = (*draftProvider)(nil)

func (p *draftProvider) ExtractTemplateDraft(ctx context.Context, req *DraftRequest) (*DraftResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question:\n%s\n\nSQL:\n%s\n", req.QuestionText, req.SQLQuery)
	if req.SchemaContext != "" {
		fmt.Fprintf(&b, "\nSchema context:\n%s\n", req.SchemaContext)
	}

	model := req.ModelID
	if model == "" {
		model = p.client.GetModel()
	}

	response, err := retry.DoWithResult(ctx, nil, func() (string, error) {
		return p.client.GenerateResponse(ctx, model, b.String(), draftSystemMessage, 0.2)
	})
	if err != nil {
		return nil, fmt.Errorf("generate template draft: %w", err)
	}

	raw, err := ParseJSONResponse[rawDraft](response)
	if err != nil {
		return nil, fmt.Errorf("parse template draft: %w", err)
	}

	draft := TemplateDraft{
		PlaceholdersSpec: raw.PlaceholdersSpec,
		Keywords:         jsonutil.FlexibleStringSlice(raw.Keywords),
		Tags:             jsonutil.FlexibleStringSlice(raw.Tags),
		Examples:         jsonutil.FlexibleStringSlice(raw.Examples),
	}
	draft.Name, _ = jsonutil.FlexibleString(raw.Name)
	draft.Intent, _ = jsonutil.FlexibleString(raw.Intent)
	draft.Description, _ = jsonutil.FlexibleString(raw.Description)
	draft.SQLPattern, _ = jsonutil.FlexibleString(raw.SQLPattern)

	p.logger.Debug("Extracted template draft",
		zap.String("name", draft.Name),
		zap.String("intent", draft.Intent),
		zap.String("model", model))

	return &DraftResult{
		ModelID:  model,
		Draft:    draft,
		Warnings: jsonutil.FlexibleStringSlice(raw.Warnings),
	}, nil
}

// rawSubQuestions is the wire shape of a decomposition response.
type rawSubQuestions struct {
	SubQuestions []struct {
		QuestionText any `json:"question_text"`
		Order        any `json:"order"`
	} `json:"sub_questions"`
}

// subQuestionProvider implements SubQuestionProvider over an LLMClient.
type subQuestionProvider struct {
	client LLMClient
	logger *zap.Logger
}

// NewSubQuestionProvider creates a SubQuestionProvider backed by the given client.
func NewSubQuestionProvider(client LLMClient, logger *zap.Logger) SubQuestionProvider {
	return &subQuestionProvider{client: client, logger: logger.Named("subquestion-provider")}
}

var _ SubQuestionProvider = (*subQuestionProvider)(nil)

func (p *subQuestionProvider) GenerateSubQuestions(ctx context.Context, req *SubQuestionRequest) (*SubQuestionResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question:\n%s\n", req.OriginalQuestion)
	if req.FormDefinition != "" {
		fmt.Fprintf(&b, "\nAssessment form definition:\n%s\n", req.FormDefinition)
	}
	if req.DatabaseSchemaContext != "" {
		fmt.Fprintf(&b, "\nDatabase schema:\n%s\n", req.DatabaseSchemaContext)
	}

	response, err := retry.DoWithResult(ctx, nil, func() (string, error) {
		return p.client.GenerateResponse(ctx, "", b.String(), subQuestionSystemMessage, 0.2)
	})
	if err != nil {
		return nil, fmt.Errorf("generate sub-questions: %w", err)
	}

	raw, err := ParseJSONResponse[rawSubQuestions](response)
	if err != nil {
		return nil, fmt.Errorf("parse sub-questions: %w", err)
	}

	result := &SubQuestionResult{}
	for i, sq := range raw.SubQuestions {
		text, ok := jsonutil.FlexibleString(sq.QuestionText)
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		order := i + 1
		if s, ok := jsonutil.FlexibleString(sq.Order); ok {
			var parsed int
			if _, err := fmt.Sscanf(s, "%d", &parsed); err == nil && parsed > 0 {
				order = parsed
			}
		}
		result.SubQuestions = append(result.SubQuestions, GeneratedSubQuestion{
			QuestionText: strings.TrimSpace(text),
			Order:        order,
		})
	}
	sort.SliceStable(result.SubQuestions, func(i, j int) bool {
		return result.SubQuestions[i].Order < result.SubQuestions[j].Order
	})

	p.logger.Debug("Generated sub-questions",
		zap.String("form_version", req.AssessmentFormVersionFk.String()),
		zap.Int("count", len(result.SubQuestions)))

	return result, nil
}
