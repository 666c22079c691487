// Package migrations embeds the MySQL schema for the execution attempt
// journal. Files are applied in version order, one transaction per file.
package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
