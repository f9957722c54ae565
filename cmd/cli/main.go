package main

import (
	"fmt"
	"os"

	"compute-gateway/internal/gateway/callid"
)

const version = "gwctl 0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}
	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd string, args []string) error {
	c := newClient(apiBaseURL())
	switch cmd {
	case "version":
		fmt.Println(version)
	case "health":
		if err := health(c); err != nil {
			return fmt.Errorf("健康检查失败: %w", err)
		}
		fmt.Println("ok")
	case "login":
		if len(args) < 2 {
			return fmt.Errorf("Usage: gwctl login <client_id> <api_key>")
		}
		token, err := login(c, args[0], args[1])
		if err != nil {
			return fmt.Errorf("登录失败: %w", err)
		}
		fmt.Println(token)
	case "id":
		if len(args) < 1 {
			return fmt.Errorf("Usage: gwctl id <payload>")
		}
		payload, err := parsePayload(args[0])
		if err != nil {
			return err
		}
		fmt.Println(callid.Derive(payload).String())
	case "call":
		if len(args) < 1 {
			return fmt.Errorf("Usage: gwctl call <payload>")
		}
		payload, err := parsePayload(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "call id:", callid.Derive(payload).String())
		out, err := callContract(c, payload)
		if err != nil {
			return fmt.Errorf("调用失败: %w", err)
		}
		fmt.Println(formatBytes(out))
	case "wait":
		if len(args) < 1 {
			return fmt.Errorf("Usage: gwctl wait <call_id> [timeout]")
		}
		timeout := ""
		if len(args) > 1 {
			timeout = args[1]
		}
		out, err := waitContractCall(c, args[0], timeout)
		if err != nil {
			return fmt.Errorf("等待失败: %w", err)
		}
		fmt.Println(formatBytes(out))
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: gwctl <command> [args]")
	fmt.Println("  version                    - 显示版本")
	fmt.Println("  health                     - 健康检查")
	fmt.Println("  login <client_id> <api_key> - 换取 JWT，输出 token（设置到 GWCTL_TOKEN）")
	fmt.Println("  id <payload>               - 本地计算调用 id（keccak256）")
	fmt.Println("  call <payload>             - 提交调用并输出执行结果；0x 前缀按十六进制解析")
	fmt.Println("  wait <call_id> [timeout]   - 等待调用达成共识并输出结果，如 wait 0xabc.. 30s")
	fmt.Println()
	fmt.Println("环境变量: GWCTL_API_URL（默认 http://localhost:8080），GWCTL_TOKEN")
}
