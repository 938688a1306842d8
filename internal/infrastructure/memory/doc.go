// Package memory provides single-process implementations of every store the
// application depends on. Each store serialises its own writes, standing in for
// the conditional-write primitives of DynamoDB and Redis in development and tests.
package memory
