package tools

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/widip/mcp-gateway/internal/clients"
	"github.com/widip/mcp-gateway/internal/mcp"
)

func fullDeps(t *testing.T) Deps {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	notifier := clients.NewNotifier("", "", 1)
	t.Cleanup(notifier.Shutdown)

	return Deps{
		GLPI:      clients.NewGLPIClient("http://glpi.local", "app", "user"),
		Observium: clients.NewObserviumClient("http://obs.local", "u", "p"),
		Directory: clients.NewDirectoryClient("ldap://dc.local", "DC=local", "bind", "pw"),
		Mailer:    clients.NewMailer("smtp.local", 587, "u", "p", "WIDIP", "noreply@local"),
		Knowledge: clients.NewKnowledgeStore(db),
		Notifier:  notifier,
	}
}

func TestRegisterAllCoversClassification(t *testing.T) {
	registry := mcp.NewRegistry()
	require.NoError(t, RegisterAll(registry, fullDeps(t)))

	// Every registered tool must be classified, and the classification must
	// not name tools that do not exist.
	registered := make(map[string]bool, registry.Len())
	for _, tool := range registry.List() {
		registered[tool.Name] = true
		_, classified := Levels[tool.Name]
		assert.True(t, classified, "tool %s has no SAFEGUARD level", tool.Name)
	}
	for name := range Levels {
		assert.True(t, registered[name], "level entry %s has no registered tool", name)
	}
}

func TestRegisterAllSkipsUnconfiguredFamilies(t *testing.T) {
	registry := mcp.NewRegistry()
	require.NoError(t, RegisterAll(registry, Deps{}))
	assert.Equal(t, 0, registry.Len())

	registry = mcp.NewRegistry()
	require.NoError(t, RegisterAll(registry, Deps{
		Observium: clients.NewObserviumClient("http://obs.local", "u", "p"),
	}))
	for _, tool := range registry.List() {
		assert.Contains(t, tool.Name, "observium_")
	}
	assert.Equal(t, 3, registry.Len())
}

func TestRegisteredSchemasAreWellFormed(t *testing.T) {
	registry := mcp.NewRegistry()
	require.NoError(t, RegisterAll(registry, fullDeps(t)))

	for _, schema := range registry.Schemas() {
		assert.NotEmpty(t, schema.Description, "tool %s has no description", schema.Name)
		assert.Equal(t, "object", schema.InputSchema.Type)
	}
}
