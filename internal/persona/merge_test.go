package persona_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypertool-ai/mcp-proxy/internal/persona"
	"github.com/hypertool-ai/mcp-proxy/internal/transport"
)

func TestMergeConfigsPersonaWinsWithEnvMergePreservingBase(t *testing.T) {
	base := map[string]transport.ServerConfig{
		"git": {Name: "git", Kind: transport.KindStdio, Command: "git-mcp-base", Env: map[string]string{"SHARED": "base", "BASE_ONLY": "b"}},
	}
	personaCfg := map[string]transport.ServerConfig{
		"git":    {Name: "git", Kind: transport.KindStdio, Command: "git-mcp-persona", Env: map[string]string{"SHARED": "persona", "PERSONA_ONLY": "p"}},
		"docker": {Name: "docker", Kind: transport.KindStdio, Command: "docker-mcp"},
	}

	result, err := persona.MergeConfigs(base, personaCfg, persona.MergeOptions{
		Strategy:         persona.MergePersonaWins,
		MergeEnvironment: true,
		PreserveBaseEnv:  true,
	})
	require.NoError(t, err)

	git := result.Merged["git"]
	assert.Equal(t, "git-mcp-persona", git.Command)
	assert.Equal(t, "base", git.Env["SHARED"])
	assert.Equal(t, "b", git.Env["BASE_ONLY"])
	assert.Equal(t, "p", git.Env["PERSONA_ONLY"])

	assert.Equal(t, "docker-mcp", result.Merged["docker"].Command)
	assert.ElementsMatch(t, []string{"conflict resolved for server git"}, result.Warnings)
	assert.ElementsMatch(t, []string{"git"}, result.Conflicts)
}

func TestMergeConfigsBaseWins(t *testing.T) {
	base := map[string]transport.ServerConfig{"git": {Name: "git", Kind: transport.KindStdio, Command: "base-cmd"}}
	personaCfg := map[string]transport.ServerConfig{"git": {Name: "git", Kind: transport.KindStdio, Command: "persona-cmd"}}

	result, err := persona.MergeConfigs(base, personaCfg, persona.MergeOptions{Strategy: persona.MergeBaseWins})
	require.NoError(t, err)
	assert.Equal(t, "base-cmd", result.Merged["git"].Command)
}

func TestMergeConfigsErrorStrategyFails(t *testing.T) {
	base := map[string]transport.ServerConfig{"git": {Name: "git", Kind: transport.KindStdio, Command: "base-cmd"}}
	personaCfg := map[string]transport.ServerConfig{"git": {Name: "git", Kind: transport.KindStdio, Command: "persona-cmd"}}

	_, err := persona.MergeConfigs(base, personaCfg, persona.MergeOptions{Strategy: persona.MergeError})
	require.Error(t, err)
}

func TestMergeConfigsUserChoiceWarnsAndActsPersonaWins(t *testing.T) {
	base := map[string]transport.ServerConfig{"git": {Name: "git", Kind: transport.KindStdio, Command: "base-cmd"}}
	personaCfg := map[string]transport.ServerConfig{"git": {Name: "git", Kind: transport.KindStdio, Command: "persona-cmd"}}

	result, err := persona.MergeConfigs(base, personaCfg, persona.MergeOptions{Strategy: persona.MergeUserChoice})
	require.NoError(t, err)
	assert.Equal(t, "persona-cmd", result.Merged["git"].Command)
	assert.Len(t, result.Warnings, 2) // user-choice note + "conflict resolved" note
}

func TestMergeConfigsNoCollisionPassesThrough(t *testing.T) {
	base := map[string]transport.ServerConfig{"git": {Name: "git", Kind: transport.KindStdio, Command: "git-mcp"}}
	personaCfg := map[string]transport.ServerConfig{"docker": {Name: "docker", Kind: transport.KindStdio, Command: "docker-mcp"}}

	result, err := persona.MergeConfigs(base, personaCfg, persona.MergeOptions{Strategy: persona.MergePersonaWins})
	require.NoError(t, err)
	assert.Len(t, result.Merged, 2)
	assert.Empty(t, result.Conflicts)
}
