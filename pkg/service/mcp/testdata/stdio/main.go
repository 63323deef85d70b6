package main

import (
	"context"
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type weatherParams struct {
	City string `json:"city" jsonschema:"City to look up"`
}

func weather(ctx context.Context, req *mcp.CallToolRequest, params *weatherParams) (*mcp.CallToolResult, any, error) {
	city := params.City
	if city == "" {
		city = "nowhere"
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Sunny in " + city},
		},
	}, nil, nil
}

func main() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "test-weather-server",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "weather",
		Description: "Current weather of a city",
	}, weather)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
