package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"raptordb/pkg/database"
	"raptordb/pkg/repl"
)

// parseWorkload reads a file of SQL statements, one batch per line.
func parseWorkload(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var workload []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		statements, _ := repl.SplitStatements(scanner.Text())
		workload = append(workload, statements...)
	}
	return workload, scanner.Err()
}

// Run a SQL workload against a throwaway database and report timing.
func main() {
	var workloadFlag = flag.String("workload", "", "workload file of SQL statements (required)")
	var dirFlag = flag.String("dir", "stress_data", "base directory for the run")
	var quietFlag = flag.Bool("quiet", true, "discard statement output")
	flag.Parse()

	if *workloadFlag == "" {
		fmt.Println("must specify -workload <file>")
		os.Exit(1)
	}
	workload, err := parseWorkload(*workloadFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	os.RemoveAll(*dirFlag)
	db, err := database.Open(*dirFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer db.Close()

	var out io.Writer = os.Stdout
	if *quietFlag {
		out = io.Discard
	}

	start := time.Now()
	errors := 0
	for _, statement := range workload {
		if err := db.ExecuteSQL(statement, out); err != nil {
			errors++
			fmt.Fprintf(os.Stderr, "%s%s\n", repl.ErrorPrependStr, err)
		}
	}
	elapsed := time.Since(start)
	fmt.Printf("ran %d statements in %v (%d errors)\n", len(workload), elapsed, errors)
}
