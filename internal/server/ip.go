package server

import (
	"net"
	"net/http"
	"strings"
)

// ------------------------------------------------------------
// 수집 서버는 ALB 뒤에 배치되므로 RemoteAddr 만으로는
// 실제 클라이언트 IP 를 알 수 없다.
// 거절 로그(400/413)에 남기는 식별 용도로만 사용한다 —
// 레코드 자체에는 IP 를 싣지 않는다.
// ------------------------------------------------------------

// clientIP 는 가장 신뢰할 수 있는 클라이언트 IP 를 추출한다.
// 우선순위: X-Forwarded-For 의 첫 public IP → RemoteAddr fallback.
func clientIP(r *http.Request) string {

	// X-Forwarded-For (ALB). 예: "203.0.113.1, 10.0.1.24"
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			ip := net.ParseIP(strings.TrimSpace(part))
			if isPublicIP(ip) {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if ip := net.ParseIP(strings.TrimSpace(host)); ip != nil {
			return ip.String()
		}
	}

	return ""
}

// isPublicIP 는 private / loopback / link-local 을 제외한다.
// X-Forwarded-For 체인에서 내부 hop 을 건너뛰기 위해 필요.
func isPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsPrivate() || ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	return true
}
