// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// rigrun-chat.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGRUN_CHAT_*), including those from .env
//   - ~/.rigrun-chat/config.toml
//   - ~/.rigrun-chat/config.json
//   - Built-in defaults
//
// RIGRUN_CHAT_HOME replaces ~/.rigrun-chat.
//
// # Example
//
//	[ollama]
//	url = "http://127.0.0.1:11434"
//	model = "qwen2.5-coder:7b"
//
//	[engine]
//	max_rounds = 5
//	stream = true
//
//	[server]
//	addr = "127.0.0.1:8790"
//	token = "change-me"
//
// # Usage
//
//	config.LoadDotEnv()
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
