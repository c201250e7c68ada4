package codec

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/snapdelta/internal/fingerprint"
	"github.com/yairfalse/snapdelta/pkg/resource"
)

func sampleCollection(t *testing.T) resource.Collection {
	t.Helper()

	created := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	h := fingerprint.New()

	resources := []resource.Resource{
		{
			ARN:       "arn:aws:ec2:us-east-1:123456789012:instance/i-0abc",
			Type:      "AWS::EC2::Instance",
			Name:      "web-1",
			Region:    "us-east-1",
			Tags:      map[string]string{"env": "prod"},
			CreatedAt: &created,
			RawConfig: map[string]any{
				"InstanceType": "t3.micro",
				"CpuCount":     2,
				"EbsOptimized": true,
				"Devices":      []any{"/dev/sda1", "/dev/sdb"},
				"Placement":    map[string]any{"Zone": "us-east-1a"},
				"State":        "running",
			},
		},
		{
			ARN:    "arn:aws:s3:::logs",
			Type:   "AWS::S3::Bucket",
			Name:   "logs",
			Region: resource.GlobalRegion,
			Tags:   map[string]string{"team": "data"},
		},
	}
	for i := range resources {
		h.Stamp(&resources[i])
	}

	return resource.Collection{
		Name:      "baseline",
		AccountID: "123456789012",
		Regions:   []string{"us-east-1"},
		CreatedAt: created,
		Resources: resources,
	}
}

func TestRoundTrip(t *testing.T) {
	for _, f := range []Format{FormatYAML, FormatJSON} {
		t.Run(string(f), func(t *testing.T) {
			want := sampleCollection(t)

			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, want, f))

			got, err := Decode(&buf, f)
			require.NoError(t, err)

			assert.Equal(t, want.Name, got.Name)
			assert.Equal(t, want.AccountID, got.AccountID)
			assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
			require.Len(t, got.Resources, len(want.Resources))

			h := fingerprint.New()
			for i := range want.Resources {
				w, g := want.Resources[i], got.Resources[i]
				assert.Equal(t, w.ARN, g.ARN)
				assert.Equal(t, w.Type, g.Type)
				assert.Equal(t, w.Region, g.Region)
				assert.Equal(t, w.ConfigHash, g.ConfigHash)
				assert.Equal(t, w.Tags, g.Tags)
				// Re-fingerprinting the decoded config reproduces the stored hash
				assert.Equal(t, w.ConfigHash, h.Sum(g.RawConfig), g.ARN)
			}

			require.NotNil(t, got.Resources[0].CreatedAt)
			assert.True(t, want.Resources[0].CreatedAt.Equal(*got.Resources[0].CreatedAt))
			assert.Nil(t, got.Resources[1].CreatedAt)
		})
	}
}

func TestEncode_FieldNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sampleCollection(t), FormatYAML))

	out := buf.String()
	for _, key := range []string{"arn:", "type:", "name:", "region:", "tags:", "created_at:", "config_hash:", "raw_config:"} {
		assert.Contains(t, out, key)
	}
}

func TestDecode_Gzip(t *testing.T) {
	want := sampleCollection(t)

	var buf bytes.Buffer
	require.NoError(t, EncodeCompressed(&buf, want, FormatJSON))
	assert.Equal(t, gzipMagic, buf.Bytes()[:2])

	got, err := Decode(&buf, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, want.Resources[0].ConfigHash, got.Resources[0].ConfigHash)
}

func TestDecode_CorruptGzip(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{0x1f, 0x8b, 0x00}), FormatYAML)
	assert.Error(t, err)
}

func TestDecode_Validates(t *testing.T) {
	doc := `
name: broken
resources:
  - arn: a
    config_hash: ` + strings.Repeat("a", 64) + `
  - arn: a
    config_hash: ` + strings.Repeat("b", 64) + `
`
	_, err := Decode(strings.NewReader(doc), FormatYAML)
	require.Error(t, err)
	assert.ErrorIs(t, err, resource.ErrDuplicateARN)
}

func TestDecode_Empty(t *testing.T) {
	c, err := Decode(strings.NewReader(""), FormatYAML)
	require.NoError(t, err)
	assert.Zero(t, c.Len())
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(strings.NewReader("{not json"), FormatJSON)
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	f, err = ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path       string
		format     Format
		compressed bool
	}{
		{"snap.yaml", FormatYAML, false},
		{"snap.yml.gz", FormatYAML, true},
		{"snap.json", FormatJSON, false},
		{"dir/SNAP.JSON.GZ", FormatJSON, true},
		{"snap", FormatYAML, false},
	}
	for _, tt := range tests {
		f, compressed := FormatFromPath(tt.path)
		assert.Equal(t, tt.format, f, tt.path)
		assert.Equal(t, tt.compressed, compressed, tt.path)
	}
}

func TestDecode_GzipYAML(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("name: zipped\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	c, err := Decode(&buf, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "zipped", c.Name)
}

func TestRoundTrip_RawConfigTimesRehashStable(t *testing.T) {
	h := fingerprint.New()
	zone := time.FixedZone("CEST", 2*60*60)
	launched := time.Date(2025, 6, 1, 12, 0, 0, 0, zone)

	r := resource.Resource{
		ARN:  "arn1",
		Type: "AWS::EC2::Instance",
		RawConfig: map[string]any{
			"LaunchedAt": launched,
			"Windows":    []any{map[string]any{"Start": launched.Add(time.Hour)}},
		},
	}
	h.Stamp(&r)
	original := resource.Collection{Name: "c", Resources: []resource.Resource{r}}

	for _, f := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(f), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, original, f))

			got, err := Decode(&buf, f)
			require.NoError(t, err)
			require.Len(t, got.Resources, 1)
			assert.Equal(t, r.ConfigHash, h.Sum(got.Resources[0].RawConfig))
		})
	}

	// Encoding leaves the caller's config in its own zone
	assert.Equal(t, zone, original.Resources[0].RawConfig["LaunchedAt"].(time.Time).Location())
}
