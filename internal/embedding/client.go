// Package embedding maps text to fixed-dimension dense vectors using an
// OpenAI-compatible embeddings endpoint.
package embedding

import (
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client wraps the OpenAI API client shared by the embedder and the chat
// generator.
type Client struct {
	client *openai.Client
}

// NewClient creates an OpenAI client. A non-empty baseURL points the client
// at an OpenAI-compatible endpoint instead of api.openai.com.
func NewClient(baseURL, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key not set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	return &Client{client: &client}, nil
}

// Client returns the underlying OpenAI client for use by other packages
// (chat completion streaming).
func (c *Client) Client() *openai.Client {
	return c.client
}
