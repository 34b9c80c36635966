package composefile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/pinup/internal/domain"
	"github.com/bnema/pinup/internal/testutils"
)

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty", content: ""},
		{name: "not yaml", content: "services: [\n"},
		{name: "top level list", content: "- web\n"},
		{name: "no services", content: "volumes:\n  data: {}\n"},
		{name: "null services", content: "services:\n"},
		{name: "services list", content: "services:\n  - web\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			assert.ErrorIs(t, err, domain.ErrManifestStructure)
		})
	}
}

func TestDocument_Services(t *testing.T) {
	doc, err := Parse([]byte(`x-base: &base
  image: ghcr.io/acme/base:1
  restart: always

services:
  web: &web
    image: nginx:1.27
  mirror: *web
  worker:
    <<: *base
  builder:
    build: .
  cache: {image: "redis:7"}
  nulled:
    image:
`))
	require.NoError(t, err)

	assert.Equal(t, []domain.ServiceImage{
		{Service: "web", Image: "nginx:1.27"},
		{Service: "mirror", Image: "nginx:1.27", Locked: "service mirror is an alias of another mapping"},
		{Service: "worker", Image: "ghcr.io/acme/base:1"},
		{Service: "builder", Image: ""},
		{Service: "cache", Image: "redis:7"},
		{Service: "nulled", Image: ""},
	}, doc.Services())
}

func TestDocument_SetImage_PreservesFormatting(t *testing.T) {
	digest := testutils.Digest("a")
	src := "# Production stack, keep comments!\n" +
		"version: '3.8'\n" +
		"\n" +
		"services:\n" +
		"  # the web frontend\n" +
		"  web:\n" +
		"    image: \"nginx:1.27\"   # quoted on purpose\n" +
		"    ports:\n" +
		"      - \"80:80\"\n" +
		"  db:\n" +
		"    environment: {POSTGRES_DB: shop}\n" +
		"    image: 'postgres:16'\n" +
		"  cache: {image: redis:7, restart: always}\n" +
		"  plain:\n" +
		"    image: team/app  # trailing\n"

	doc, err := Parse([]byte(src))
	require.NoError(t, err)

	require.NoError(t, doc.SetImage("web", "nginx:1.27@"+digest))
	require.NoError(t, doc.SetImage("db", "postgres:16@"+digest))
	require.NoError(t, doc.SetImage("cache", "redis:7@"+digest))
	require.NoError(t, doc.SetImage("plain", "team/app@"+digest))
	assert.True(t, doc.Changed())

	want := strings.NewReplacer(
		`"nginx:1.27"`, `"nginx:1.27@`+digest+`"`,
		`'postgres:16'`, `'postgres:16@`+digest+`'`,
		`redis:7,`, `redis:7@`+digest+`,`,
		`team/app  #`, `team/app@`+digest+`  #`,
	).Replace(src)

	got, err := doc.Bytes()
	require.NoError(t, err)
	assert.Equal(t, want, string(got))

	reparsed, err := Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "nginx:1.27@"+digest, reparsed.Services()[0].Image)
}

func TestDocument_SetImage_SameValueIsUnchanged(t *testing.T) {
	src := "services:\n  web:\n    image: nginx:1.27\n"
	doc, err := Parse([]byte(src))
	require.NoError(t, err)

	require.NoError(t, doc.SetImage("web", "nginx:1.27"))

	assert.False(t, doc.Changed())
	got, err := doc.Bytes()
	require.NoError(t, err)
	assert.Equal(t, src, string(got))
}

func TestDocument_SetImage_RepeatedEditReusesSpan(t *testing.T) {
	doc, err := Parse([]byte("services:\n  web:\n    image: nginx\n"))
	require.NoError(t, err)

	require.NoError(t, doc.SetImage("web", "nginx@"+testutils.Digest("1")))
	require.NoError(t, doc.SetImage("web", "nginx@"+testutils.Digest("2")))

	got, err := doc.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "services:\n  web:\n    image: nginx@"+testutils.Digest("2")+"\n", string(got))
}

func TestDocument_SetImage_MultibyteColumns(t *testing.T) {
	src := "services:\n  web: {labels: {note: \"café ☕\"}, image: nginx}\n"
	doc, err := Parse([]byte(src))
	require.NoError(t, err)

	require.NoError(t, doc.SetImage("web", "nginx@"+testutils.Digest("3")))

	got, err := doc.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "services:\n  web: {labels: {note: \"café ☕\"}, image: nginx@"+testutils.Digest("3")+"}\n", string(got))
}

func TestDocument_SetImage_CRLFAndBOM(t *testing.T) {
	src := "\ufeffservices:\r\n  web:\r\n    image: nginx\r\n"
	doc, err := Parse([]byte(src))
	require.NoError(t, err)

	require.NoError(t, doc.SetImage("web", "nginx:latest@"+testutils.Digest("4")))

	got, err := doc.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "\ufeffservices:\r\n  web:\r\n    image: nginx:latest@"+testutils.Digest("4")+"\r\n", string(got))
}

func TestDocument_SetImage_Refusals(t *testing.T) {
	src := `x-base: &base
  image: redis:7
x-list: &list
  image: [a, b]
services:
  aliased: *base
  builder:
    build: .
  listed:
    <<: *list
`
	tests := []struct {
		service string
		want    error
	}{
		{service: "aliased", want: domain.ErrImageNotEditable},
		{service: "builder", want: domain.ErrImageNotEditable},
		{service: "listed", want: domain.ErrImageNotEditable},
		{service: "missing", want: domain.ErrServiceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			doc, err := Parse([]byte(src))
			require.NoError(t, err)

			err = doc.SetImage(tt.service, "x@"+testutils.Digest("5"))

			assert.ErrorIs(t, err, tt.want)
			assert.False(t, doc.Changed())
		})
	}
}

func TestDocument_SetImage_SharedImages(t *testing.T) {
	digest := testutils.Digest("7")
	src := `x-base: &base
  image: nginx:1.27
  restart: always
x-img: &img redis:7

services:
  web:
    <<: *base
    ports:
      - "80:80"
  api: {<<: *base}
  cache:
    image: *img
  solo:
    image: &solo postgres:16
  sibling:
    <<: *base
`
	doc, err := Parse([]byte(src))
	require.NoError(t, err)
	for _, svc := range doc.Services() {
		assert.Empty(t, svc.Locked, svc.Service)
	}

	require.NoError(t, doc.SetImage("web", "nginx:1.27@"+digest))
	require.NoError(t, doc.SetImage("api", "nginx:1.27@"+digest))
	require.NoError(t, doc.SetImage("cache", "redis:7@"+digest))
	require.NoError(t, doc.SetImage("solo", "postgres:16@"+digest))

	want := strings.NewReplacer(
		"  web:\n    <<:", "  web:\n    image: nginx:1.27@"+digest+"\n    <<:",
		"api: {<<:", "api: {image: nginx:1.27@"+digest+", <<:",
		"image: *img", "image: redis:7@"+digest,
		"&solo postgres:16", "&solo postgres:16@"+digest,
	).Replace(src)

	got, err := doc.Bytes()
	require.NoError(t, err)
	assert.Equal(t, want, string(got))

	reparsed, err := Parse(got)
	require.NoError(t, err)
	assert.Equal(t, []domain.ServiceImage{
		{Service: "web", Image: "nginx:1.27@" + digest},
		{Service: "api", Image: "nginx:1.27@" + digest},
		{Service: "cache", Image: "redis:7@" + digest},
		{Service: "solo", Image: "postgres:16@" + digest},
		{Service: "sibling", Image: "nginx:1.27"},
	}, reparsed.Services())
}

func TestDocument_SetImage_InsertedImageIsReused(t *testing.T) {
	src := "x-base: &base\r\n  image: nginx\r\nservices:\r\n  web:\r\n    <<: *base\r\n"
	doc, err := Parse([]byte(src))
	require.NoError(t, err)

	require.NoError(t, doc.SetImage("web", "nginx@"+testutils.Digest("1")))
	require.NoError(t, doc.SetImage("web", "nginx@"+testutils.Digest("2")))

	got, err := doc.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "x-base: &base\r\n  image: nginx\r\nservices:\r\n  web:\r\n    image: nginx@"+testutils.Digest("2")+"\r\n    <<: *base\r\n", string(got))
}

func TestDocument_SetImage_InheritedSameValueIsUnchanged(t *testing.T) {
	doc, err := Parse([]byte("x-base: &base\n  image: nginx\nservices:\n  web:\n    <<: *base\n"))
	require.NoError(t, err)

	require.NoError(t, doc.SetImage("web", "nginx"))

	assert.False(t, doc.Changed())
}

func TestDocument_SetImage_BlockScalarFallsBackToEncoding(t *testing.T) {
	doc, err := Parse([]byte("services:\n  web:\n    image: >-\n      nginx\n    restart: always\n"))
	require.NoError(t, err)

	require.NoError(t, doc.SetImage("web", "nginx@"+testutils.Digest("6")))

	got, err := doc.Bytes()
	require.NoError(t, err)
	reparsed, err := Parse(got)
	require.NoError(t, err)
	assert.Equal(t, []domain.ServiceImage{{Service: "web", Image: "nginx@" + testutils.Digest("6")}}, reparsed.Services())
	assert.Contains(t, string(got), "restart: always")
}

func TestRenderScalar(t *testing.T) {
	tests := []struct {
		name  string
		style string
		value string
		want  string
	}{
		{name: "plain", value: "nginx@sha256:ab", want: "nginx@sha256:ab"},
		{name: "plain needing quotes", value: "a: b", want: `"a: b"`},
		{name: "plain leading indicator", value: "@x", want: `"@x"`},
		{name: "single quoted", style: "single", value: "it's", want: `'it''s'`},
		{name: "double quoted", style: "double", value: `a"b`, want: `"a\"b"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			style := styleFor(tt.style)
			got, ok := renderScalar(style, tt.value)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
