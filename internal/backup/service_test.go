package backup_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/periodledger/internal/backup"
	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/periods"
	"github.com/odyssey-erp/periodledger/internal/platform/memstore"
)

var stamp = time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC)

func newRegistry(t *testing.T) *periods.Registry {
	t.Helper()
	reg := periods.NewRegistry(memstore.NewCatalog(), memstore.NewBackend(), nil)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func seeded(t *testing.T) *periods.Registry {
	t.Helper()
	ctx := context.Background()
	reg := newRegistry(t)
	_, err := reg.CreatePeriod(ctx, periods.CreatePeriodInput{ID: "2024"})
	require.NoError(t, err)
	_, err = reg.CreatePeriod(ctx, periods.CreatePeriodInput{ID: "2025", Name: "FY 2025", Activate: true})
	require.NoError(t, err)

	store, err := reg.GetStore(ctx, "2025")
	require.NoError(t, err)
	c := ledger.NewCoordinator(store)
	_, err = c.CreateCustomer(ctx, ledger.CustomerInput{ID: "c1", FirstName: "Sara"})
	require.NoError(t, err)
	_, err = c.SaveInvoice(ctx, ledger.InvoiceInput{
		ID: "i1", Number: "1", CustomerID: "c1", Type: ledger.InvoiceSale, IssueDate: "2025-02-01",
		Items: []ledger.InvoiceItem{{ProductID: "lens", Qty: 1, Price: 900}},
	})
	require.NoError(t, err)
	_, err = c.RegisterInvoicePayment(ctx, "i1", ledger.Payment{Date: "2025-02-02", Amount: 900, BoxType: ledger.BoxVIP})
	require.NoError(t, err)
	_, err = c.RecordWastage(ctx, ledger.WastageInput{Date: "2025-02-03", Title: "cracked", TotalCost: 40}, ledger.BoxMain)
	require.NoError(t, err)
	return reg
}

func exportAll(t *testing.T, reg *periods.Registry) map[string]ledger.Snapshot {
	t.Helper()
	ctx := context.Background()
	list, err := reg.Periods(ctx)
	require.NoError(t, err)
	out := make(map[string]ledger.Snapshot, len(list))
	for _, p := range list {
		store, err := reg.GetStore(ctx, p.ID)
		require.NoError(t, err)
		snap, err := store.Export(ctx)
		require.NoError(t, err)
		out[p.ID] = snap
	}
	return out
}

func TestExportRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := seeded(t)
	archive, err := backup.NewService(src, backup.WithClock(func() time.Time { return stamp })).Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025", archive.ActivePeriod)
	require.Len(t, archive.Periods, 2)

	var buf bytes.Buffer
	require.NoError(t, backup.Encode(&buf, archive))
	decoded, err := backup.Decode(&buf)
	require.NoError(t, err)

	dst := newRegistry(t)
	var restored []string
	svc := backup.NewService(dst, backup.WithAfterRestore(func(_ context.Context, id string) {
		restored = append(restored, id)
	}))
	require.NoError(t, svc.Restore(ctx, decoded))

	assert.ElementsMatch(t, []string{"2024", "2025"}, restored)
	assert.Equal(t, exportAll(t, src), exportAll(t, dst))
	active, err := dst.ActiveID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025", active)
	p, err := dst.Period(ctx, "2025")
	require.NoError(t, err)
	assert.Equal(t, "FY 2025", p.Name)

	store, err := dst.GetStore(ctx, "2025")
	require.NoError(t, err)
	report, err := ledger.CheckIntegrity(ctx, store)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report.Issues)
}

func TestRestoreReplacesExistingRows(t *testing.T) {
	ctx := context.Background()
	src := seeded(t)
	archive, err := backup.NewService(src).Export(ctx)
	require.NoError(t, err)

	store, err := src.GetStore(ctx, "2025")
	require.NoError(t, err)
	_, err = ledger.NewCoordinator(store).CreateCustomer(ctx, ledger.CustomerInput{ID: "late", FirstName: "Late"})
	require.NoError(t, err)

	require.NoError(t, backup.NewService(src).Restore(ctx, archive))
	store, err = src.GetStore(ctx, "2025")
	require.NoError(t, err)
	_, err = store.Customer(ctx, "late")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestDecodeRejectsBadArchives(t *testing.T) {
	cases := map[string]string{
		"garbage":        `{`,
		"version":        `{"version": 9, "periods": []}`,
		"bad id":         `{"version": 1, "periods": [{"period": {"id": "active"}}]}`,
		"duplicate":      `{"version": 1, "periods": [{"period": {"id": "a"}}, {"period": {"id": "a"}}]}`,
		"unknown active": `{"version": 1, "active_period": "b", "periods": [{"period": {"id": "a"}}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := backup.Decode(bytes.NewBufferString(raw))
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
}

type memObjects struct {
	objects map[string][]byte
	putErr  error
}

func (m *memObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *memObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestS3UploaderStoresUnderTimestampedKey(t *testing.T) {
	ctx := context.Background()
	archive, err := backup.NewService(seeded(t), backup.WithClock(func() time.Time { return stamp })).Export(ctx)
	require.NoError(t, err)

	objects := &memObjects{objects: map[string][]byte{}}
	up := backup.NewS3UploaderWithClient(objects, "ledger-backups", "nightly")
	key, err := up.Upload(ctx, archive)
	require.NoError(t, err)
	assert.Equal(t, "nightly/20251231T235900Z.json", key)
	assert.Contains(t, objects.objects, "ledger-backups/nightly/20251231T235900Z.json")

	back, err := up.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, archive.ActivePeriod, back.ActivePeriod)
	assert.Len(t, back.Periods, 2)

	objects.putErr = errors.New("503")
	_, err = up.Upload(ctx, archive)
	assert.ErrorContains(t, err, "503")

	_, err = backup.NewS3Uploader(ctx, backup.S3Config{})
	assert.ErrorIs(t, err, backup.ErrUploadDisabled)
}
