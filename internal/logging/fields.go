package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// StartupFields 描述引擎启动参数：策略、存储后端与凭证模式。
func StartupFields(strategy, backend, compression, authMode string) logrus.Fields {
	return logrus.Fields{
		"strategy":    strategy,
		"backend":     backend,
		"compression": compression,
		"auth_mode":   authMode,
	}
}

// RequestFields 提供管理接口请求日志的公共字段。
func RequestFields(requestID, method, path string, status int, latency time.Duration) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
		"latency_ms": latency.Milliseconds(),
	}
}
