package source_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
	"github.com/restoreworks/crm-migration/internal/infrastructure/source"
)

func errorIsTransient(err error) bool {
	return errors.Is(err, domain.ErrTransientSource)
}

func writeImportFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func fileAdapter(t *testing.T, dir, ref string) domain.SourceAdapter {
	t.Helper()
	adapter, err := source.NewFileSourceFactory(dir)(context.Background(), domain.Job{
		Source:  domain.SourceCSV,
		Options: domain.Options{BatchSize: 2, SourceRef: ref},
	})
	require.NoError(t, err)
	return adapter
}

func TestFileSource_PagesThroughArray(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeImportFile(t, dir, "contacts.json", `[
		{"external_id":"c-1","entity_type":"contact","fields":{"first_name":"Ana"}},
		{"external_id":"c-2","entity_type":"contact"},
		{"external_id":"c-3","entity_type":"contact"},
		{"external_id":"c-4","entity_type":"contact"}
	]`)
	adapter := fileAdapter(t, dir, "contacts.json")
	ctx := context.Background()

	first, err := adapter.FetchPage(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, first.Records, 3)
	assert.Equal(t, "Ana", first.Records[0].Fields.FirstName)
	require.NotNil(t, first.NextCursor)
	assert.Equal(t, "3", *first.NextCursor)

	second, err := adapter.FetchPage(ctx, *first.NextCursor, 3)
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	assert.Equal(t, "c-4", second.Records[0].ExternalID)
	assert.Nil(t, second.NextCursor)

	exact, err := adapter.FetchPage(ctx, "2", 2)
	require.NoError(t, err)
	assert.Len(t, exact.Records, 2)
	assert.Nil(t, exact.NextCursor)

	total, err := adapter.(domain.TotalEstimator).EstimateTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
}

func TestFileSource_Failures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeImportFile(t, dir, "object.json", `{"external_id":"c-1"}`)

	_, err := fileAdapter(t, dir, "object.json").FetchPage(context.Background(), "", 10)
	require.Error(t, err)
	assert.True(t, domain.IsTerminal(err))

	_, err = fileAdapter(t, dir, "missing.json").FetchPage(context.Background(), "", 10)
	require.Error(t, err)
	assert.True(t, domain.IsTerminal(err))

	_, err = fileAdapter(t, dir, "object.json").FetchPage(context.Background(), "abc", 10)
	require.Error(t, err)
	assert.True(t, domain.IsTerminal(err))
}

func TestFileSourceFactory_RejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	factory := source.NewFileSourceFactory(t.TempDir())
	for _, ref := range []string{"", "../secrets.json", "/etc/passwd"} {
		_, err := factory(context.Background(), domain.Job{Source: domain.SourceCSV, Options: domain.Options{SourceRef: ref}})
		require.Error(t, err, ref)
		assert.True(t, domain.IsTerminal(err), ref)
	}
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()

	records := []domain.CanonicalRecord{{ExternalID: "c-1", EntityType: domain.EntityContact}}
	reg := source.NewRegistry()
	reg.Register(domain.SourceOther, source.NewStaticFactory(records))

	adapter, err := reg.Resolve(context.Background(), domain.Job{Source: domain.SourceOther})
	require.NoError(t, err)
	page, err := adapter.FetchPage(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Nil(t, page.NextCursor)

	_, err = reg.Resolve(context.Background(), domain.Job{Source: domain.SourceHover})
	require.Error(t, err)
	assert.True(t, domain.IsTerminal(err))
	assert.Equal(t, []domain.Source{domain.SourceOther}, reg.Registered())
}
