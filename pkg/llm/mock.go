package llm

import (
	"context"
	"fmt"
)

// MockLLMClient is a mock implementation of LLMClient for testing.
type MockLLMClient struct {
	GenerateResponseFunc   func(ctx context.Context, model string, prompt string, systemMessage string, temperature float64) (string, error)
	GetModelFunc           func() string
	GenerateResponseCalls  int
	GenerateResponseModels []string
}

var _ LLMClient = (*MockLLMClient)(nil)

func (m *MockLLMClient) GenerateResponse(ctx context.Context, model string, prompt string, systemMessage string, temperature float64) (string, error) {
	m.GenerateResponseCalls++
	m.GenerateResponseModels = append(m.GenerateResponseModels, model)
	if m.GenerateResponseFunc != nil {
		return m.GenerateResponseFunc(ctx, model, prompt, systemMessage, temperature)
	}
	return "", fmt.Errorf("GenerateResponseFunc not set")
}

func (m *MockLLMClient) GetModel() string {
	if m.GetModelFunc != nil {
		return m.GetModelFunc()
	}
	return "mock-model"
}

// MockDraftProvider is a mock implementation of DraftProvider for testing.
type MockDraftProvider struct {
	ExtractTemplateDraftFunc  func(ctx context.Context, req *DraftRequest) (*DraftResult, error)
	ExtractTemplateDraftCalls int
}

var _ DraftProvider = (*MockDraftProvider)(nil)

func (m *MockDraftProvider) ExtractTemplateDraft(ctx context.Context, req *DraftRequest) (*DraftResult, error) {
	m.ExtractTemplateDraftCalls++
	if m.ExtractTemplateDraftFunc != nil {
		return m.ExtractTemplateDraftFunc(ctx, req)
	}
	return nil, fmt.Errorf("ExtractTemplateDraftFunc not set")
}

// MockSubQuestionProvider is a mock implementation of SubQuestionProvider for
// testing.
type MockSubQuestionProvider struct {
	GenerateSubQuestionsFunc  func(ctx context.Context, req *SubQuestionRequest) (*SubQuestionResult, error)
	GenerateSubQuestionsCalls int
}

var _ SubQuestionProvider = (*MockSubQuestionProvider)(nil)

func (m *MockSubQuestionProvider) GenerateSubQuestions(ctx context.Context, req *SubQuestionRequest) (*SubQuestionResult, error) {
	m.GenerateSubQuestionsCalls++
	if m.GenerateSubQuestionsFunc != nil {
		return m.GenerateSubQuestionsFunc(ctx, req)
	}
	return nil, fmt.Errorf("GenerateSubQuestionsFunc not set")
}
