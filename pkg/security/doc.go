// Package security provides validation, sanitization, and limits for the shardwork package.
//
// This package includes:
//   - Input validation for job kinds, subject keys, and worker identifiers
//   - Error message sanitization to prevent sensitive data leakage
//   - Clamping functions to enforce safe limits on retries and capacity
//   - Security-related constants defining maximum sizes and counts
//
// Most users should import the root package github.com/jdziat/shardwork
// which re-exports these functions.
package security
