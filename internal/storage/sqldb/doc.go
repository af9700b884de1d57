// Package sqldb 负责打开关系型数据库连接并执行内置迁移。
//
// 支持 MySQL（go-sql-driver/mysql）与 SQLite（modernc.org/sqlite）两种驱动，
// 迁移脚本来自 deploy/migrations，使用两种方言都能执行的 DDL。
package sqldb
