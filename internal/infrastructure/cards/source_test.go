package cards

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/flowcard/internal/infrastructure/credentials"
)

func TestFileSourceParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.yaml")
	doc := `cards:
  - id: summarize
    title: Summarize text
    workflow_id: "7400001"
    parameters:
      - name: input
        required: true
      - name: lang
        default: en
  - id: broken
    title: Missing workflow
  - id: summarize
    title: Duplicate
    workflow_id: "7400002"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cards, err := (&FileSource{Path: path}).ListCards(context.Background())
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "summarize", cards[0].ID)
	assert.Equal(t, "7400001", cards[0].WorkflowID)
	require.Len(t, cards[0].Parameters, 2)
	assert.True(t, cards[0].Parameters[0].Required)
	assert.Equal(t, "en", cards[0].Parameters[1].Default)
}

func TestFileSourceMissingFileIsEmpty(t *testing.T) {
	cards, err := (&FileSource{Path: filepath.Join(t.TempDir(), "none.yaml")}).ListCards(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestHTTPSourceReadsEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var auth string
	router := gin.New()
	router.GET("/cards", func(c *gin.Context) {
		auth = c.GetHeader("Authorization")
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "", "data": []gin.H{
			{"id": "a", "title": "A", "workflowId": "wf-a"},
			{"id": "b", "title": "B"},
		}})
	})
	router.GET("/broken/cards", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": 401, "msg": "token expired"})
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	src := &HTTPSource{BaseURL: srv.URL, Credentials: credentials.Static("tok")}
	cards, err := src.ListCards(context.Background())
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "wf-a", cards[0].WorkflowID)
	assert.Equal(t, "Bearer tok", auth)

	_, err = (&HTTPSource{BaseURL: srv.URL + "/broken"}).ListCards(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token expired")
}
