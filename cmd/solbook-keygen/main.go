package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/betbot/solbook/internal/app"
	"github.com/betbot/solbook/internal/wallet"
	"github.com/betbot/solbook/pkg/config"
)

func main() {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("SOLBOOK_CONFIG"), "配置文件路径")
		name       = flag.String("name", "", "secret store 中的密钥名，默认取配置")
		force      = flag.Bool("force", false, "覆盖已存在的密钥")
		fromStdin  = flag.Bool("mnemonic", false, "从标准输入读取助记词并导入")
		newWords   = flag.Bool("new-mnemonic", false, "生成新的助记词并打印对应地址（不写入 secret store）")
		list       = flag.Bool("list", false, "列出 secret store 中的密钥")
	)
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fatal(err)
	}
	keyName := *name
	if keyName == "" {
		keyName = cfg.Wallet.SecretName
	}

	if *newWords {
		mn, err := wallet.NewMnemonic()
		if err != nil {
			fatal(err)
		}
		key, err := wallet.KeyFromMnemonic(mn, cfg.Wallet.MnemonicPassphrase)
		if err != nil {
			fatal(err)
		}
		fmt.Fprintln(os.Stderr, "请妥善保存以下助记词：")
		fmt.Println(mn)
		fmt.Fprintf(os.Stderr, "地址：%s\n", key.PublicKey())
		return
	}

	if cfg.Wallet.SecretStorePath == "" {
		fatal(errors.New("wallet.secret_store_path 未配置（SOLBOOK_SECRET_STORE_PATH）"))
	}
	store, err := app.OpenSecrets(cfg.Wallet)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	switch {
	case *list:
		names, err := wallet.StoredKeys(store)
		if err != nil {
			fatal(err)
		}
		for _, n := range names {
			key, _, err := wallet.LoadStoredKey(store, n)
			if err != nil {
				fmt.Printf("%s\t<error: %v>\n", n, err)
				continue
			}
			fmt.Printf("%s\t%s\n", n, key.PublicKey())
		}

	case *fromStdin:
		fmt.Fprintln(os.Stderr, "请输入助记词（12/15/18/21/24 个单词），输入完成后回车：")
		mn := readLine()
		if mn == "" {
			fatal(errors.New("mnemonic is empty"))
		}
		key, err := wallet.KeyFromMnemonic(mn, cfg.Wallet.MnemonicPassphrase)
		if err != nil {
			fatal(err)
		}
		if err := wallet.StoreKey(store, keyName, key, *force); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stderr, "已导入 %s：%s\n", keyName, key.PublicKey())

	default:
		pk, err := wallet.GenerateKeypair(store, keyName, *force)
		if err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stderr, "已生成 %s：%s\n", keyName, pk)
	}
}

func readLine() string {
	br := bufio.NewReader(os.Stdin)
	s, _ := br.ReadString('\n')
	return strings.TrimSpace(s)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
