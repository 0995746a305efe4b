package engine

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publicLookup(string) ([]net.IP, error) {
	return []net.IP{net.ParseIP("93.184.216.34")}, nil
}

func fetchInput(u string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"url": u})
	return data
}

func TestWebFetch_BlocksPrivateAddresses(t *testing.T) {
	w := NewWebFetch()
	_, err := w.Execute(t.Context(), fetchInput("http://127.0.0.1:9/admin"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private/internal")
}

func TestWebFetch_RejectsBadInput(t *testing.T) {
	w := NewWebFetch()

	_, err := w.Execute(t.Context(), json.RawMessage(`{}`))
	assert.ErrorContains(t, err, "url is required")

	_, err = w.Execute(t.Context(), fetchInput("ftp://example.com/file"))
	assert.ErrorContains(t, err, "http:// or https://")
}

func TestWebFetch_Text(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "easiwork-fetch/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<h1>Menu</h1>"))
	}))
	defer srv.Close()

	w := NewWebFetch()
	w.lookup = publicLookup

	res, err := w.Execute(t.Context(), fetchInput(srv.URL))
	require.NoError(t, err)
	assert.False(t, res.IsError())
	assert.Contains(t, res.Output, "<h1>Menu</h1>")
	assert.Contains(t, res.Output, "200 OK")
	assert.Nil(t, res.Attachment)
}

func TestWebFetch_Image(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png; charset=binary")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	w := NewWebFetch()
	w.lookup = publicLookup

	res, err := w.Execute(t.Context(), fetchInput(srv.URL+"/logo.png"))
	require.NoError(t, err)
	require.NotNil(t, res.Attachment)
	assert.Equal(t, "image/png", res.Attachment.MediaType)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, res.Attachment.Data)
}

func TestWebFetch_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	w := NewWebFetch()
	w.lookup = publicLookup

	res, err := w.Execute(t.Context(), fetchInput(srv.URL))
	require.NoError(t, err)
	assert.True(t, res.IsError())
	assert.Contains(t, res.Error, "404")
}

func TestIsPrivateIP(t *testing.T) {
	for _, ip := range []string{"127.0.0.1", "10.1.2.3", "172.16.0.1", "192.168.1.1", "169.254.169.254", "::1", "fd00::1"} {
		assert.True(t, isPrivateIP(net.ParseIP(ip)), ip)
	}
	for _, ip := range []string{"8.8.8.8", "93.184.216.34", "2606:4700::1111"} {
		assert.False(t, isPrivateIP(net.ParseIP(ip)), ip)
	}
}
