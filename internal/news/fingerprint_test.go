package news

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func tsPtr(t time.Time) *time.Time {
	return &t
}

func sampleRecord() Record {
	return Record{
		Agency:      "mec",
		PublishedAt: tsPtr(time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC)),
		Title:       "A",
		URL:         "https://www.gov.br/mec/noticias/a",
		ExtractedAt: time.Date(2024, 7, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestNewFingerprintDeterministic(t *testing.T) {
	t.Parallel()

	rec := sampleRecord()
	first, err := NewFingerprint(rec)
	require.NoError(t, err)
	second, err := NewFingerprint(rec)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, string(first), 64)
}

func TestNewFingerprintIgnoresTimeOfDay(t *testing.T) {
	t.Parallel()

	// Gaining time-of-day precision must not re-mint historical identities.
	dateOnly := sampleRecord()
	precise := sampleRecord()
	precise.PublishedAt = tsPtr(time.Date(2024, 7, 3, 14, 35, 0, 0, time.UTC))

	a, err := NewFingerprint(dateOnly)
	require.NoError(t, err)
	b, err := NewFingerprint(precise)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestNewFingerprintDistinguishesTitles(t *testing.T) {
	t.Parallel()

	a := sampleRecord()
	b := sampleRecord()
	b.Title = "B"

	fpA, err := NewFingerprint(a)
	require.NoError(t, err)
	fpB, err := NewFingerprint(b)
	require.NoError(t, err)
	require.NotEqual(t, fpA, fpB)
}

func TestNewFingerprintValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Record)
		wantErr error
	}{
		{"empty agency", func(r *Record) { r.Agency = "" }, ErrEmptyAgency},
		{"empty title", func(r *Record) { r.Title = "" }, ErrEmptyTitle},
		{"nil published_at", func(r *Record) { r.PublishedAt = nil }, ErrNoPublishedAt},
		{"zero published_at", func(r *Record) { r.PublishedAt = &time.Time{} }, ErrNoPublishedAt},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := sampleRecord()
			tc.mutate(&rec)
			_, err := NewFingerprint(rec)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}
