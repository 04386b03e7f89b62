// Package strategy 定义缓存策略档位（aggressive / balanced / conservative）及其注册表。
//
// 每个档位决定：
//   1. 未显式指定 TTL 时写入条目的默认 TTL；
//   2. 内存层超出 MaxMemoryItems 后回收到的低水位比例；
//   3. TTL 清扫任务的默认周期。
//
// 引擎在构造时根据配置项 CacheStrategy 解析档位，并允许配置覆盖 TTL 与清扫周期。
package strategy
