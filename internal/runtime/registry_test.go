package runtime

import (
	"context"
	"testing"

	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"github.com/mohammad-safakhou/research-assistant/tools"
	"github.com/stretchr/testify/require"
)

func testAppConfig() *config.Config {
	cfg := &config.Config{
		LLM: config.LLMConfig{
			Providers: map[string]config.LLMProvider{
				"openai": {Type: "openai", APIKey: "sk-test", Models: map[string]config.LLMModel{"gpt-4o-mini": {}}},
			},
			Routing: config.LLMRoutingConfig{Fallback: "gpt-4o-mini"},
		},
		Knowledge: config.KnowledgeConfig{Backend: "memory"},
		Tools:     config.ToolsConfig{Fetcher: "none"},
	}
	cfg.Normalize()
	return cfg
}

func TestBuildKnowledgeOnly(t *testing.T) {
	app, err := Build(context.Background(), testAppConfig(), nil, AppOptions{KnowledgeOnly: true})
	require.NoError(t, err)
	defer app.Close(context.Background())

	require.NotNil(t, app.Knowledge)
	require.Nil(t, app.Relay)
	require.Nil(t, app.Redis)
}

func TestBuildWiresPipeline(t *testing.T) {
	app, err := Build(context.Background(), testAppConfig(), nil, AppOptions{Service: "test"})
	require.NoError(t, err)
	defer app.Close(context.Background())

	require.NotNil(t, app.Relay)
	require.Nil(t, app.Store, "postgres is not configured")
	require.Nil(t, app.Events, "events are disabled")
	require.Equal(t, []string{string(tools.WebSearch), string(tools.Retriever)}, toolNames(app.Tools))
	require.Empty(t, app.RunSinks(core.Request{Question: "q"}))
}

func TestBuildRejectsUnknownModel(t *testing.T) {
	cfg := testAppConfig()
	cfg.LLM.Routing.Critic = "missing-model"
	_, err := Build(context.Background(), cfg, nil, AppOptions{})
	require.ErrorContains(t, err, "missing-model")
}

func TestCloseNilApp(t *testing.T) {
	var app *App
	require.NoError(t, app.Close(context.Background()))
}
