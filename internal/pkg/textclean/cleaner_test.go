package textclean

import (
	"errors"
	"strings"
	"testing"

	"github.com/pedscribe/pedscribe/internal/pkg/llm"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"
	"github.com/pedscribe/pedscribe/internal/pkg/test"
	"github.com/pedscribe/pedscribe/internal/pkg/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func initTest(t *testing.T) (*Cleaner, *mocks.LLM) {
	t.Helper()
	m := &mocks.LLM{}
	c, err := NewCleaner(m, 50)
	require.Nil(t, err)
	return c, m
}

func TestNewCleaner(t *testing.T) {
	c, err := NewCleaner(&mocks.LLM{}, 0)
	require.Nil(t, err)
	assert.Equal(t, DefaultMaxChars, c.maxChars)
	_, err = NewCleaner(nil, 0)
	assert.NotNil(t, err)
}

func TestClean(t *testing.T) {
	c, m := initTest(t)
	m.On("Complete", mock.Anything, mock.Anything).Return(`{"cleaned_text":" Febre há 2 dias. "}`, nil)
	got, err := c.Clean(test.Ctx(t), "é... febre há 2 dias né", &persistence.PatientContext{Name: "Ana", Age: "2 anos"})
	require.Nil(t, err)
	assert.Equal(t, "Febre há 2 dias.", got)
	r := m.Calls[0].Arguments.Get(1).(*llm.Request)
	assert.Contains(t, r.User, `"name":"Ana"`)
	assert.Contains(t, r.User, "febre há 2 dias né")
	assert.Contains(t, r.System, "cleaned_text")
}

func TestClean_Empty(t *testing.T) {
	c, m := initTest(t)
	_, err := c.Clean(test.Ctx(t), "  \n ", nil)
	assert.NotNil(t, err)
	m.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestClean_Truncates(t *testing.T) {
	c, m := initTest(t)
	m.On("Complete", mock.Anything, mock.Anything).Return(`{"cleaned_text":"ok"}`, nil)
	_, err := c.Clean(test.Ctx(t), strings.Repeat("ã", 60), nil)
	require.Nil(t, err)
	r := m.Calls[0].Arguments.Get(1).(*llm.Request)
	assert.Contains(t, r.User, strings.Repeat("ã", 50)+TruncatedMarker)
	assert.NotContains(t, r.User, strings.Repeat("ã", 51))
}

func TestClean_BadResponse(t *testing.T) {
	tests := []struct {
		name string
		resp string
	}{
		{name: "empty text", resp: `{"cleaned_text":""}`},
		{name: "not json", resp: `olia`},
		{name: "other field", resp: `{"text":"olia"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, m := initTest(t)
			m.On("Complete", mock.Anything, mock.Anything).Return(tt.resp, nil)
			_, err := c.Clean(test.Ctx(t), "febre", nil)
			var be *llm.BadResponseError
			assert.True(t, errors.As(err, &be))
		})
	}
}

func TestClean_LLMFail(t *testing.T) {
	c, m := initTest(t)
	m.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("olia"))
	_, err := c.Clean(test.Ctx(t), "febre", nil)
	assert.NotNil(t, err)
	m.AssertNumberOfCalls(t, "Complete", 1)
}

func TestTruncate(t *testing.T) {
	got, cut := truncate("abc", 3)
	assert.Equal(t, "abc", got)
	assert.False(t, cut)
	got, cut = truncate("abcd", 3)
	assert.Equal(t, "abc"+TruncatedMarker, got)
	assert.True(t, cut)
}
