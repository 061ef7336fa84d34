// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client provides the HTTP client for the primestream API.
//
// It submits calculations, reads task snapshots and follows the
// server-sent event streams, decoding each snapshot into task states.
//
// # Key Types
//
//   - Client: API client with request and stream operations
//   - EventReader: text/event-stream parser
//   - StreamEvent: a decoded snapshot or server-side error event
//
// # Usage
//
//	c := client.NewClientWithConfig(&client.ClientConfig{BaseURL: addr})
//	resp, err := c.Submit(ctx, client.SubmitRequest{UpperBound: 100000})
//	if err != nil {
//		return err
//	}
//	err = c.StreamEach(ctx, resp.TaskID, func(ev client.StreamEvent) {
//		fmt.Println(ev.Snapshot[resp.TaskID].Kind)
//	})
package client
