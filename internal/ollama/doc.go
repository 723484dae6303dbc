// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// This package implements a client for the Ollama local LLM server and
// the LLM provider used by the execution engine for task decomposition,
// instruction steps, and failure analysis.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Provider: LLM backend implementing the provider contract
//   - Message: Chat message with role and content
//   - ChatResponse: Response structure with message and metrics
//
// # Usage
//
// Create a client and send a chat request:
//
//	client := ollama.NewClient()
//	resp, err := client.Chat(ctx, "qwen2.5-coder:14b", []ollama.Message{
//	    ollama.NewUserMessage("Hello"),
//	}, nil)
//
// Plan a task through the provider:
//
//	prov := ollama.NewProvider(client, "qwen2.5-coder:14b", 0.2, 4096)
//	steps, err := prov.DecomposeTask(ctx, "set up a python venv and install requests")
//
// Requests are rate limited when the client is configured with a
// requests-per-second budget, and transient connection failures are
// retried before the server is reported as not running.
package ollama
