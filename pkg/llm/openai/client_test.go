package openai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/replydesk/pkg/llm"
	"github.com/lisanmuaddib/replydesk/pkg/llm/openai"
)

func chatCompletion(content string) map[string]interface{} {
	return map[string]interface{}{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]interface{}{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

var _ = Describe("Client", func() {
	var (
		server  *httptest.Server
		content string
		seen    map[string]interface{}
		client  *openai.Client
	)

	BeforeEach(func() {
		content = "  Спасибо за отзыв!  "
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Path).To(HaveSuffix("/chat/completions"))
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer test-key"))
			seen = map[string]interface{}{}
			Expect(json.NewDecoder(r.Body).Decode(&seen)).To(Succeed())
			w.Header().Set("Content-Type", "application/json")
			Expect(json.NewEncoder(w).Encode(chatCompletion(content))).To(Succeed())
		}))

		logger := logrus.New()
		logger.SetOutput(io.Discard)
		var err error
		client, err = openai.NewClient(&openai.OpenAIConfig{
			APIKey:      "test-key",
			Model:       "gpt-4o-mini",
			BaseURL:     server.URL,
			Temperature: 0.3,
			Logger:      logger,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("returns the trimmed completion and forwards the token cap", func() {
		text, err := client.Complete(context.Background(), "Напиши ответ", 120)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("Спасибо за отзыв!"))
		Expect(seen).To(HaveKey("messages"))
		Expect(seen["model"]).To(Equal("gpt-4o-mini"))
	})

	It("treats blank output as an empty completion", func() {
		content = "   "
		_, err := client.Complete(context.Background(), "Напиши ответ", 120)
		Expect(err).To(MatchError(llm.ErrEmptyCompletion))
	})

	It("requires an API key", func() {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		_, err := openai.NewClient(&openai.OpenAIConfig{Logger: logger})
		Expect(err).To(HaveOccurred())
	})
})
