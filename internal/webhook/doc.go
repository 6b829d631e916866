// Package webhook accepts HMAC-SHA256 signed HTTP requests and turns each one
// into a descriptor file in the input directory.
//
// Workflow tools that can call a URL but cannot write into the input
// directory use this listener. Each endpoint is bound to one job name; the
// request only decides when the job runs and, optionally, with which extra
// arguments.
//
// # Security Model
//
//   - Signatures are compared with crypto/subtle (constant time).
//   - Bodies larger than max_body_size are refused before verification.
//   - Failures always answer a generic 403 without details.
//   - Request bodies are never logged.
//
// # Configuration
//
//	webhooks:
//	  listen: "127.0.0.1:8081"
//	  endpoints:
//	    - path: /hooks/nightly
//	      job: nightly_build
//	      secret: ${NIGHTLY_HOOK_SECRET}
//	      signature_header: X-Hub-Signature-256
//	      max_body_size: 64KB
//	      args:
//	        env: prod
//
// # Request Flow
//
//  1. POST arrives at a configured path.
//  2. Body size checked (413 if too large).
//  3. Signature header verified against the body (403 on mismatch).
//  4. Extra arguments read from a body of the form {"args":[{"key":..,"value":..}]};
//     any other body, e.g. a provider's event payload, contributes none.
//  5. The descriptor is dropped into the input directory.
//  6. 202 Accepted with the job identifier and completion marker name.
package webhook
