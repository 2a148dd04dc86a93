// Package security は外部への送信に関するセキュリティ機能を提供する。
//
// Webhook送信先はデプロイ設定で与えられるため、誤設定や設定の改ざんによって
// 内部ネットワークやクラウドメタデータへリクエストが送られないよう、
// 送信前の静的検証と、DNS解決後の宛先検証付きHTTPクライアントを提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// EgressGuard は外部送信先の検証を行う。
type EgressGuard interface {
	// NewSafeClient は送信先IPを検証するHTTPクライアントを生成する。
	// プライベートIP、ループバック、リンクローカル、メタデータIPへの接続はDialerで拒否される。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はURLを静的に検証する。起動時の設定チェックで使用する。
	ValidateURL(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks はValidateURLで拒否するネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
}

type egressGuard struct {
	allowedPorts []int
}

// NewEgressGuard はEgressGuardを生成する。portsを省略した場合は80と443のみ許可する。
func NewEgressGuard(ports ...int) EgressGuard {
	if len(ports) == 0 {
		ports = []int{80, 443}
	}
	return &egressGuard{allowedPorts: ports}
}

// NewSafeClient はsafeurlで宛先を検証するHTTPクライアントを生成する。
// DNS解決後のIPアドレスを検証するため、DNS再バインディングにも対応する。
func (g *egressGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.allowedPorts...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はスキーム、ホスト、ポートを静的に検証する。
// ホスト名のDNS解決は行わない。
func (g *egressGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("送信先URLが空です")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("送信先URLが不正です: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("許可されていないスキームです: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("送信先URLにホストがありません: %s", rawURL)
	}

	if p := parsed.Port(); p != "" && !g.isAllowedPort(p) {
		return fmt.Errorf("許可されていないポートです: %s", p)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("送信が禁止されたIPアドレスです: %s", ip.String())
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("送信が禁止されたホストです: %s", host)
	}
	return nil
}

func (g *egressGuard) isAllowedPort(port string) bool {
	for _, p := range g.allowedPorts {
		if fmt.Sprint(p) == port {
			return true
		}
	}
	return false
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func isBlockedHostname(host string) bool {
	lower := strings.ToLower(host)
	for _, blocked := range blockedHostnames {
		if lower == blocked {
			return true
		}
	}
	return false
}
