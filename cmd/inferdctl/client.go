package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"inferd/pkg/types"
)

func httpClient(cfg *Config) *http.Client {
	return &http.Client{Timeout: cfg.Timeout}
}

// fnListModels GETs /v1/models and prints a one-line summary per model.
func fnListModels(cfg *Config) error {
	var body types.ModelsResponse
	if err := getJSON(cfg, "/v1/models", &body); err != nil {
		return err
	}
	for _, m := range body.Models {
		fmt.Printf("%s\tready=%v\treadyInstances=%d\tmaxBatchSize=%d\n", m.Name, m.Ready, m.ReadyInstances, m.MaxBatchSize)
	}
	return nil
}

// fnModelStatus GETs /v1/models/{name} and prints its summary.
func fnModelStatus(cfg *Config, name string) error {
	var m types.ModelSummary
	if err := getJSON(cfg, "/v1/models/"+name, &m); err != nil {
		return err
	}
	fmt.Printf("name=%s ready=%v readyInstances=%d maxBatchSize=%d\n", m.Name, m.Ready, m.ReadyInstances, m.MaxBatchSize)
	return nil
}

// fnModelReady GETs /v1/models/{name}/ready and reports the HTTP status.
func fnModelReady(cfg *Config, name string) error {
	resp, err := httpClient(cfg).Get(cfg.Addr + "/v1/models/" + name + "/ready")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		fmt.Printf("%s: ready\n", name)
		return nil
	}
	return fmt.Errorf("%s: not ready (status %d)", name, resp.StatusCode)
}

// fnWarmup POSTs /v1/models/{name}/warmup to retry warmup for any
// instance still waiting on it and prints the resulting summary.
func fnWarmup(cfg *Config, name string) error {
	resp, err := httpClient(cfg).Post(cfg.Addr+"/v1/models/"+name+"/warmup", "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("warmup failed with status %d: %s", resp.StatusCode, string(out))
	}
	var m types.ModelSummary
	if err := json.Unmarshal(out, &m); err != nil {
		return err
	}
	fmt.Printf("name=%s ready=%v readyInstances=%d maxBatchSize=%d\n", m.Name, m.Ready, m.ReadyInstances, m.MaxBatchSize)
	return nil
}

// fnInfer POSTs a JSON infer request body (from file or stdin) to
// /v1/models/{name}/infer and pretty-prints the response.
func fnInfer(cfg *Config, name, file string) error {
	var r io.Reader = os.Stdin
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	resp, err := httpClient(cfg).Post(cfg.Addr+"/v1/models/"+name+"/infer", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var errBody types.ErrorResponse
		if json.Unmarshal(out, &errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("infer failed (%d): %s", resp.StatusCode, errBody.Error)
		}
		return fmt.Errorf("infer failed with status %d: %s", resp.StatusCode, string(out))
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out, "", "  "); err != nil {
		fmt.Println(string(out))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

// fnHealth checks /healthz and /readyz and reports both.
func fnHealth(cfg *Config) error {
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := httpClient(cfg).Get(cfg.Addr + path)
		if err != nil {
			return err
		}
		resp.Body.Close()
		fmt.Printf("%s: %d\n", path, resp.StatusCode)
	}
	return nil
}

func getJSON(cfg *Config, path string, out any) error {
	resp, err := httpClient(cfg).Get(cfg.Addr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
