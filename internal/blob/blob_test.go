package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, _, err := m.Get(ctx, "persons/1.jpg")
	assert.ErrorIs(t, err, ErrNotFound)

	info, err := m.Put(ctx, "persons/1.jpg", []byte{0xff, 0xd8}, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultContentType, info.ContentType)
	assert.Equal(t, int64(2), info.Size)

	_, err = m.Put(ctx, "persons/1.jpg", []byte("png"), "image/png")
	require.NoError(t, err)
	got, data, err := m.Get(ctx, "persons/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/png", got.ContentType)
	assert.Equal(t, []byte("png"), data)

	ok, err := m.Delete(ctx, "persons/1.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = m.Delete(ctx, "persons/1.jpg")
	assert.False(t, ok)
}

func TestSQLGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM photos WHERE object_key = ?")).
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"object_key"}))
	_, _, err = NewSQL(db).Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPutUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO photos")).
		WithArgs("k", "image/jpeg", []byte("abc")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT object_key, content_type, LENGTH(data), updated_at FROM photos")).
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"k", "ct", "n", "u"}).AddRow("k", "image/jpeg", 3, time.Now()))

	info, err := NewSQL(db).Put(context.Background(), "k", []byte("abc"), "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Driver: "memory"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, s.Driver())

	_, err = Open(ctx, Options{}, nil)
	assert.Error(t, err)

	_, err = Open(ctx, Options{Driver: "ftp"}, nil)
	assert.Error(t, err)
}

// fakeS3 answers the handful of S3 calls the store makes.
type fakeS3 struct {
	mu   sync.Mutex
	objs map[string][]byte
	ct   map[string]string
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	empty := func(code int) *http.Response {
		return &http.Response{StatusCode: code, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}
	}
	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		f.objs[key] = body
		f.ct[key] = req.Header.Get("Content-Type")
		return empty(200), nil
	case http.MethodHead, http.MethodGet:
		body, ok := f.objs[key]
		if !ok {
			if req.Method == http.MethodGet {
				xml := `<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`
				return &http.Response{StatusCode: 404, Body: io.NopCloser(strings.NewReader(xml)),
					Header: http.Header{"Content-Type": {"application/xml"}}}, nil
			}
			return empty(404), nil
		}
		h := http.Header{
			"Content-Length": {fmt.Sprintf("%d", len(body))},
			"Content-Type":   {f.ct[key]},
			"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
		}
		if req.Method == http.MethodHead {
			body = nil
		}
		return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(body)), Header: h}, nil
	case http.MethodDelete:
		delete(f.objs, key)
		return empty(204), nil
	}
	return empty(501), nil
}

func newFakeS3(t *testing.T) *S3 {
	t.Helper()
	rt := &fakeS3{objs: map[string][]byte{}, ct: map[string]string{}}
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
	})
	return &S3{client: client, bucket: "photos", prefix: "visitors/"}
}

func TestS3Flow(t *testing.T) {
	ctx := context.Background()
	s := newFakeS3(t)

	_, err := s.Head(ctx, "p/1.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.Get(ctx, "p/1.jpg")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Put(ctx, "p/1.jpg", []byte("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)

	info, data, err := s.Get(ctx, "p/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
	assert.Equal(t, "image/jpeg", info.ContentType)

	ok, err := s.Delete(ctx, "p/1.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "p/1.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	assert.Error(t, err)
}

// decodeChunked unwraps a single-chunk aws-chunked body.
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	n, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || n <= 0 || int64(len(parts[1])) != n || parts[2] != "0" {
		return nil, false
	}
	return []byte(parts[1]), true
}
