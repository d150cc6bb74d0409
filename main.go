package main

import (
	"github.com/joho/godotenv"

	"github.com/shouni/go-scholar-sheet/cmd"
)

func main() {
	// .env があれば SCHOLAR_SHEET_COOKIE などを読み込む
	_ = godotenv.Load()

	cmd.Execute()
}
