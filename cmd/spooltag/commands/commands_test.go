// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/spooltag/cmd/spooltag/cli"
	"github.com/bureau-foundation/spooltag/lib/taglayout"
)

const testKey = "spool-test-key-material"

const galaxyRecord = `{
	// comments are fine, this is JSONC
	"name": "Galaxy Black",
	"type": "PETG",
	"color": "#1A1A2E",
	"manufacturer": "Prusament",
	"nozzle_temp": 245,
	"bed_temp": 85,
	"remaining_length": 330,
	"remaining_weight": 1000,
}`

// testEnv is an isolated configuration and environment for running
// the command tree.
type testEnv struct {
	t   *testing.T
	dir string
	env map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{t: t, dir: dir, env: map[string]string{"SPOOLTAG_MASK_KEY": testKey}}
	env.writeConfig("config.yaml", "")
	return env
}

// writeConfig writes a configuration file with the journal in the
// test directory plus extra YAML, and selects it.
func (e *testEnv) writeConfig(name, extra string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	content := "environment: development\n" +
		"logging:\n  level: error\n  format: text\n" +
		"journal:\n  enabled: true\n  path: " + filepath.Join(e.dir, "state", "scans.db") + "\n" +
		extra
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		e.t.Fatalf("writing config: %v", err)
	}
	e.env["SPOOLTAG_CONFIG"] = path
	return path
}

func (e *testEnv) path(name string) string {
	return filepath.Join(e.dir, name)
}

func (e *testEnv) writeFile(name string, data []byte) string {
	e.t.Helper()
	path := e.path(name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		e.t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

type runResult struct {
	stdout string
	stderr string
	err    error
}

func (e *testEnv) runWithInput(stdin string, args ...string) runResult {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	s := &streams{
		stdin:  strings.NewReader(stdin),
		stdout: &stdout,
		stderr: &stderr,
		lookupEnv: func(name string) (string, bool) {
			value, ok := e.env[name]
			return value, ok
		},
	}
	err := s.root().Execute(args)
	return runResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func (e *testEnv) run(args ...string) runResult {
	e.t.Helper()
	return e.runWithInput("", args...)
}

// mustRun runs args and fails the test on any error.
func (e *testEnv) mustRun(stdin string, args ...string) string {
	e.t.Helper()
	result := e.runWithInput(stdin, args...)
	if result.err != nil {
		e.t.Fatalf("spooltag %s: %v\nstderr: %s", strings.Join(args, " "), result.err, result.stderr)
	}
	return result.stdout
}

func decodeJSON[T any](t *testing.T, text string) T {
	t.Helper()
	var value T
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		t.Fatalf("parsing JSON output: %v\n%s", err, text)
	}
	return value
}

// encodeGalaxy writes the galaxy record as a tag image and returns its
// path and the encode report.
func (e *testEnv) encodeGalaxy(name string) (string, encodeResult) {
	e.t.Helper()
	out := e.path(name)
	report := decodeJSON[encodeResult](e.t, e.mustRun(galaxyRecord, "encode", "--json", "-o", out))
	return out, report
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	imagePath, encoded := env.encodeGalaxy("tag.bin")

	image, err := os.ReadFile(imagePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(image) != taglayout.Size || encoded.Bytes != taglayout.Size {
		t.Fatalf("image is %d bytes (report %d), want %d", len(image), encoded.Bytes, taglayout.Size)
	}
	if !bytes.Equal(image[:4], taglayout.Magic[:]) {
		t.Errorf("image magic = % X", image[:4])
	}

	report := decodeJSON[recordReport](t, env.mustRun("", "decode", "--json", imagePath))
	if report.Format != "image" || report.Confidence != "high" {
		t.Errorf("format %q confidence %q, want image/high", report.Format, report.Confidence)
	}
	if report.Record.Name != "Galaxy Black" || report.Record.Type != "PETG" || report.Record.NozzleTemp != 245 {
		t.Errorf("decoded record = %+v", report.Record)
	}
	if report.Fingerprint != encoded.Fingerprint {
		t.Errorf("fingerprint changed across round trip: %s vs %s", report.Fingerprint, encoded.Fingerprint)
	}
}

func TestEncodeHexIsDecodable(t *testing.T) {
	env := newTestEnv(t)
	hexText := env.mustRun(galaxyRecord, "encode", "--hex")
	if len(strings.TrimSpace(hexText)) != 2*taglayout.Size {
		t.Fatalf("hex output is %d characters", len(strings.TrimSpace(hexText)))
	}
	report := decodeJSON[recordReport](t, env.mustRun(hexText, "decode", "--json"))
	if report.Format != "hex" || report.Record.Name != "Galaxy Black" {
		t.Errorf("decoded %q from %s", report.Record.Name, report.Format)
	}
}

func TestDecodeWithWrongKeyIsLowConfidence(t *testing.T) {
	env := newTestEnv(t)
	imagePath, _ := env.encodeGalaxy("tag.bin")

	env.env["SPOOLTAG_MASK_KEY"] = "a-different-key"
	report := decodeJSON[recordReport](t, env.mustRun("", "decode", "--json", imagePath))
	if report.Confidence != "low" {
		t.Errorf("confidence = %q under the wrong key, want low", report.Confidence)
	}
	if report.Record.Name == "Galaxy Black" {
		t.Error("record decoded under the wrong key")
	}
	if result := env.run("decode", "--strict", imagePath); result.err == nil {
		t.Error("strict decode accepted an image masked with another key")
	}

	wrongUID := decodeJSON[recordReport](t, env.mustRun("", "decode", "--json", "--uid", "04a1b2c3d4e5f6", imagePath))
	if wrongUID.Confidence != "low" {
		t.Errorf("confidence = %q with a per-tag key the image was not written with, want low", wrongUID.Confidence)
	}
}

func TestEncodeRejectsWideFlags(t *testing.T) {
	env := newTestEnv(t)
	result := env.runWithInput(galaxyRecord, "encode", "--hex", "--flags", "0x1000000")
	if cli.CategoryOf(result.err) != cli.CategoryValidation {
		t.Fatalf("err = %v, want validation error", result.err)
	}
}

func TestEncodeYAMLWithUID(t *testing.T) {
	env := newTestEnv(t)
	yamlRecord := "name: Silk Copper\ntype: pla basic\nnozzle_temp: 215\n"
	imagePath := env.path("uid.bin")
	env.mustRun(yamlRecord, "encode", "--input", "yaml", "--uid", "04:A2:2B:1C:5E:80", "-o", imagePath)

	withUID := decodeJSON[recordReport](t, env.mustRun("", "decode", "--json", "--uid", "04A22B1C5E80", imagePath))
	if withUID.Record.Name != "Silk Copper" || withUID.Record.Type != "PLA Basic" {
		t.Errorf("decoded with UID key: %+v", withUID.Record)
	}
	withoutUID := decodeJSON[recordReport](t, env.mustRun("", "decode", "--json", imagePath))
	if withoutUID.Record.Name == "Silk Copper" {
		t.Error("per-tag image decoded with the parent key")
	}
}

func TestDecodeJSONReportsCorrections(t *testing.T) {
	env := newTestEnv(t)
	report := decodeJSON[recordReport](t, env.mustRun(`{"name":"Hot","type":"PLA","nozzle_temp":999}`, "decode", "--json"))
	if report.Format != "json" {
		t.Errorf("format = %q, want json", report.Format)
	}
	if report.Confidence != "" {
		t.Errorf("structured input has confidence %q", report.Confidence)
	}
	var found bool
	for _, correction := range report.Corrections {
		if correction.Field == "nozzle_temp" {
			found = true
		}
	}
	if !found {
		t.Errorf("no nozzle_temp correction in %+v", report.Corrections)
	}
	if report.Record.NozzleTemp == 999 {
		t.Error("out-of-range nozzle temperature kept")
	}
}

func TestDecodeFormats(t *testing.T) {
	env := newTestEnv(t)
	imagePath, _ := env.encodeGalaxy("tag.bin")

	tests := []struct {
		format string
		want   []string
	}{
		{"card", []string{"Galaxy Black", "PETG · Prusament", "245 °C", "image (high confidence)", "╭"}},
		{"markdown", []string{"# Galaxy Black", "| Nozzle temperature | 245 °C |", "Fingerprint `"}},
		{"html", []string{"<h1>Galaxy Black</h1>", "<table>", "<td>245 °C</td>"}},
		{"diag", []string{`"name": "Galaxy Black"`, `"nozzle_temp": 245`}},
	}
	for _, test := range tests {
		t.Run(test.format, func(t *testing.T) {
			output := env.mustRun("", "decode", "--format", test.format, "--color", "never", imagePath)
			for _, want := range test.want {
				if !strings.Contains(output, want) {
					t.Errorf("%s output lacks %q:\n%s", test.format, want, output)
				}
			}
		})
	}
}

func TestDecodeCBOR(t *testing.T) {
	env := newTestEnv(t)
	imagePath, _ := env.encodeGalaxy("tag.bin")
	cborPath := env.writeFile("record.cbor", []byte(env.mustRun("", "decode", "--format", "cbor", imagePath)))

	report := decodeJSON[recordReport](t, env.mustRun("", "decode", "--json", "--input", "cbor", cborPath))
	if report.Record.Name != "Galaxy Black" || report.Format != "mapping" {
		t.Errorf("CBOR snapshot decoded to %q (%s)", report.Record.Name, report.Format)
	}
	if report.Record.NozzleTemp != 245 || report.Record.Density == 0 {
		t.Errorf("CBOR snapshot lost numeric fields: %+v", report.Record)
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name     string
		stdin    string
		args     []string
		category cli.ErrorCategory
	}{
		{"short binary", "\x00\x01\x02", []string{"decode"}, cli.CategoryValidation},
		{"unknown format", galaxyRecord, []string{"decode", "--format", "pdf"}, cli.CategoryValidation},
		{"missing file", "", []string{"decode", env.path("absent.bin")}, cli.CategoryNotFound},
		{"bad uid", galaxyRecord, []string{"decode", "--uid", "xyz"}, cli.CategoryValidation},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := env.runWithInput(test.stdin, test.args...)
			if result.err == nil {
				t.Fatal("expected an error")
			}
			if got := cli.CategoryOf(result.err); got != test.category {
				t.Errorf("category = %s, want %s (%v)", got, test.category, result.err)
			}
		})
	}
}

func TestInspect(t *testing.T) {
	env := newTestEnv(t)
	imagePath, _ := env.encodeGalaxy("tag.bin")

	output := env.mustRun("", "inspect", "--dump", imagePath)
	for _, want := range []string{"Checksum", "ok", "spool_data", "masked", "Galaxy Black", "Raw image:"} {
		if !strings.Contains(output, want) {
			t.Errorf("inspect output lacks %q:\n%s", want, output)
		}
	}

	image, err := os.ReadFile(imagePath)
	if err != nil {
		t.Fatal(err)
	}
	image[taglayout.Size-1] ^= 0xFF
	corrupt := env.writeFile("corrupt.bin", image)

	result := env.run("inspect", "--json", corrupt)
	var exit *cli.ExitError
	if !errors.As(result.err, &exit) || exit.Code != lowConfidenceExit {
		t.Fatalf("err = %v, want exit code %d", result.err, lowConfidenceExit)
	}
	report := decodeJSON[inspectReport](t, result.stdout)
	if report.Checksum.Match || report.Confidence != "low" {
		t.Errorf("checksum match %t confidence %q after corruption", report.Checksum.Match, report.Confidence)
	}
	if report.Record.Name != "Galaxy Black" {
		t.Errorf("low-confidence decode lost the record: %+v", report.Record)
	}
}

func TestInspectRejectsStructuredInput(t *testing.T) {
	env := newTestEnv(t)
	result := env.runWithInput(galaxyRecord, "inspect")
	if cli.CategoryOf(result.err) != cli.CategoryValidation {
		t.Fatalf("err = %v, want validation error", result.err)
	}
}

func TestStrictDecodeFailsOnChecksum(t *testing.T) {
	env := newTestEnv(t)
	imagePath, _ := env.encodeGalaxy("tag.bin")
	image, err := os.ReadFile(imagePath)
	if err != nil {
		t.Fatal(err)
	}
	image[taglayout.Size-1] ^= 0xFF
	corrupt := env.writeFile("corrupt.bin", image)

	if result := env.run("decode", "--json", corrupt); result.err != nil {
		t.Fatalf("lenient decode failed: %v", result.err)
	}
	if result := env.run("decode", "--strict", corrupt); result.err == nil {
		t.Fatal("strict decode accepted a checksum mismatch")
	}
}

func TestKeyStatus(t *testing.T) {
	env := newTestEnv(t)
	status := decodeJSON[keyStatus](t, env.mustRun("", "key", "status", "--json"))
	if status.Source != "env SPOOLTAG_MASK_KEY" || status.Fallback || status.Bytes != len(testKey) {
		t.Errorf("status = %+v", status)
	}

	delete(env.env, "SPOOLTAG_MASK_KEY")
	fallback := decodeJSON[keyStatus](t, env.mustRun("", "key", "status", "--json"))
	if !fallback.Fallback || fallback.KeyID == status.KeyID {
		t.Errorf("fallback status = %+v", fallback)
	}
	if text := env.mustRun("", "key", "status"); !strings.Contains(text, "development key is in use") {
		t.Errorf("text status does not warn about the fallback:\n%s", text)
	}
}

func TestKeyStatusProductionRefusesFallback(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeConfig("production.yaml", "")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	env.writeFile("production.yaml", bytes.Replace(content, []byte("environment: development"), []byte("environment: production"), 1))
	delete(env.env, "SPOOLTAG_MASK_KEY")

	result := env.run("key", "status")
	if cli.CategoryOf(result.err) != cli.CategoryValidation {
		t.Fatalf("err = %v, want validation error for a missing production key", result.err)
	}
}

func TestKeyDerive(t *testing.T) {
	env := newTestEnv(t)
	first := decodeJSON[derivedKey](t, env.mustRun("", "key", "derive", "--uid", "04A22B1C5E80", "--json"))
	second := decodeJSON[derivedKey](t, env.mustRun("", "key", "derive", "--uid", "04:a2:2b:1c:5e:80", "--json", "--reveal"))
	if first.KeyID != second.KeyID {
		t.Errorf("UID spelling changed the derived key: %s vs %s", first.KeyID, second.KeyID)
	}
	if first.KeyID == first.Parent {
		t.Error("derived key equals its parent")
	}
	if first.Key != "" || second.Key == "" {
		t.Errorf("key revealed without --reveal or hidden with it: %q %q", first.Key, second.Key)
	}
	other := decodeJSON[derivedKey](t, env.mustRun("", "key", "derive", "--uid", "04A22B1C5E81", "--json"))
	if other.KeyID == first.KeyID {
		t.Error("different UIDs derived the same key")
	}

	if result := env.run("key", "derive"); cli.CategoryOf(result.err) != cli.CategoryValidation {
		t.Errorf("derive without --uid: %v", result.err)
	}
}

func TestKeyKeygenAndSeal(t *testing.T) {
	env := newTestEnv(t)
	original := decodeJSON[keyStatus](t, env.mustRun("", "key", "status", "--json"))

	identityPath := env.path("identity.txt")
	recipient := strings.TrimSpace(env.mustRun("", "key", "keygen", "-o", identityPath))
	if !strings.HasPrefix(recipient, "age1") {
		t.Fatalf("recipient = %q", recipient)
	}
	info, err := os.Stat(identityPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("identity mode = %v", info.Mode().Perm())
	}
	if result := env.run("key", "keygen", "-o", identityPath); cli.CategoryOf(result.err) != cli.CategoryValidation {
		t.Errorf("keygen over an existing file: %v", result.err)
	}

	sealedPath := env.path("mask.key.age")
	env.mustRun("", "key", "seal", "-r", recipient, "-o", sealedPath)

	delete(env.env, "SPOOLTAG_MASK_KEY")
	env.writeConfig("sealed.yaml", "key:\n  sealed_file: "+sealedPath+"\n  identity_file: "+identityPath+"\n")
	opened := decodeJSON[keyStatus](t, env.mustRun("", "key", "status", "--json"))
	if opened.KeyID != original.KeyID || opened.Fallback {
		t.Errorf("sealed key status = %+v, want key id %s", opened, original.KeyID)
	}
	if !strings.HasPrefix(opened.Source, "sealed file ") {
		t.Errorf("source = %q", opened.Source)
	}
}

func TestKeySealFromStdin(t *testing.T) {
	env := newTestEnv(t)
	identityPath := env.path("identity.txt")
	recipient := strings.TrimSpace(env.mustRun("", "key", "keygen", "-o", identityPath))

	sealedText := env.mustRun("piped-key\nignored second line\n", "key", "seal", "-r", recipient, "-")
	sealedPath := env.writeFile("piped.age", []byte(sealedText))

	env.writeConfig("sealed.yaml", "key:\n  sealed_file: "+sealedPath+"\n  identity_file: "+identityPath+"\n")
	status := decodeJSON[keyStatus](t, env.mustRun("", "key", "status", "--json"))
	if status.Bytes != len("piped-key") {
		t.Errorf("sealed key is %d bytes, want %d", status.Bytes, len("piped-key"))
	}

	if result := env.run("key", "seal", "-r", "not-a-recipient", "-"); cli.CategoryOf(result.err) != cli.CategoryValidation {
		t.Errorf("seal with a bad recipient: %v", result.err)
	}
}

func TestKinds(t *testing.T) {
	env := newTestEnv(t)
	all := decodeJSON[[]kindEntry](t, env.mustRun("", "kinds", "--json"))
	if len(all) != 15 || all[0].Kind != "PLA Basic" || all[0].Code != 0 {
		t.Fatalf("kinds = %+v", all)
	}
	if all[0].Nozzle == nil || all[0].Family != "PLA" {
		t.Errorf("PLA Basic lacks its family profile: %+v", all[0])
	}

	matched := decodeJSON[[]kindEntry](t, env.mustRun("", "kinds", "cf", "--json"))
	if len(matched) != 3 {
		t.Fatalf("cf matched %+v", matched)
	}
	for _, entry := range matched {
		if !strings.HasSuffix(entry.Kind, "-CF") {
			t.Errorf("cf matched %q", entry.Kind)
		}
	}

	table := env.mustRun("", "kinds")
	if !strings.Contains(table, "PETG Basic") || !strings.Contains(table, "230–270°C") {
		t.Errorf("kinds table:\n%s", table)
	}

	if result := env.run("kinds", "zzzz"); cli.CategoryOf(result.err) != cli.CategoryNotFound {
		t.Errorf("unmatched query: %v", result.err)
	}
}

func TestDumpPackDecodeUnpack(t *testing.T) {
	env := newTestEnv(t)
	first, _ := env.encodeGalaxy("first.bin")
	second := env.path("second.bin")
	env.mustRun(`{"name":"Jade","type":"TPU"}`, "encode", "-o", second)
	garbage := env.writeFile("garbage.bin", []byte{1, 2, 3})

	archive := env.path("session.stdp")
	packed := env.run("dump", "pack", "-o", archive, "--compression", "lz4", first, second, garbage)
	if packed.err != nil {
		t.Fatalf("dump pack: %v\nstderr: %s", packed.err, packed.stderr)
	}
	if !strings.Contains(packed.stderr, "warning: garbage.bin") || strings.Contains(packed.stderr, "first.bin") {
		t.Errorf("pack warnings:\n%s", packed.stderr)
	}

	result := env.run("dump", "decode", "--json", "--workers", "2", archive)
	var exit *cli.ExitError
	if !errors.As(result.err, &exit) || exit.Code != 1 {
		t.Fatalf("err = %v, want exit code 1 for a failed item", result.err)
	}
	report := decodeJSON[archiveReport](t, result.stdout)
	if report.Count != 3 || report.Failed != 1 {
		t.Fatalf("report count %d failed %d", report.Count, report.Failed)
	}
	if report.Items[0].Tag == nil || report.Items[0].Tag.Record.Name != "Galaxy Black" {
		t.Errorf("item 0 = %+v", report.Items[0])
	}
	if report.Items[1].Tag == nil || report.Items[1].Tag.Record.Type != "TPU" {
		t.Errorf("item 1 = %+v", report.Items[1])
	}
	if report.Items[2].Label != "garbage.bin" || report.Items[2].Error == "" {
		t.Errorf("item 2 = %+v", report.Items[2])
	}

	outDir := env.path("unpacked")
	listing := env.mustRun("", "dump", "unpack", "-d", outDir, archive)
	if strings.Count(listing, "\n") != 3 {
		t.Errorf("unpack listed:\n%s", listing)
	}
	restored, err := os.ReadFile(filepath.Join(outDir, "first.bin"))
	if err != nil {
		t.Fatal(err)
	}
	original, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(restored, original) {
		t.Error("unpacked payload differs from the packed file")
	}
}

func TestDumpDecodeCorruptArchive(t *testing.T) {
	env := newTestEnv(t)
	archive := env.writeFile("bad.stdp", []byte("STDP but not really an archive at all"))
	if result := env.run("dump", "decode", archive); cli.CategoryOf(result.err) != cli.CategoryValidation {
		t.Errorf("corrupt archive: %v", result.err)
	}
}

func TestItemFileName(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"tag.bin", "tag.bin"},
		{"../../etc/passwd", "passwd"},
		{"", "item-007.bin"},
		{"/", "item-007.bin"},
	}
	for _, test := range tests {
		if got := itemFileName(7, test.label); got != test.want {
			t.Errorf("itemFileName(%q) = %q, want %q", test.label, got, test.want)
		}
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	imagePath, encoded := env.encodeGalaxy("tag.bin")
	env.mustRun("", "decode", "--json", imagePath)
	env.runWithInput("\x00", "decode")

	entries := decodeJSON[[]map[string]any](t, env.mustRun("", "history", "--json"))
	if len(entries) != 3 {
		t.Fatalf("history has %d entries, want 3", len(entries))
	}
	if entries[0]["operation"] != "decode" || entries[0]["error"] == nil {
		t.Errorf("newest entry = %v, want the failed decode", entries[0])
	}

	same := decodeJSON[[]map[string]any](t, env.mustRun("", "history", "--json", "--fingerprint", encoded.Fingerprint))
	if len(same) != 2 || same[0]["operation"] != "write" || same[1]["operation"] != "decode" {
		t.Errorf("fingerprint history = %v", same)
	}

	limited := decodeJSON[[]map[string]any](t, env.mustRun("", "history", "--json", "-n", "1"))
	if len(limited) != 1 {
		t.Errorf("limit 1 returned %d entries", len(limited))
	}

	if table := env.mustRun("", "history"); !strings.Contains(table, `PETG "Galaxy Black"`) {
		t.Errorf("history table:\n%s", table)
	}
}

func TestHistoryDisabled(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeConfig("nojournal.yaml", "")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	env.writeFile("nojournal.yaml", bytes.Replace(content, []byte("enabled: true"), []byte("enabled: false"), 1))
	if result := env.run("history"); cli.CategoryOf(result.err) != cli.CategoryValidation {
		t.Errorf("history with the journal off: %v", result.err)
	}
}

func TestSimulate(t *testing.T) {
	env := newTestEnv(t)
	report := decodeJSON[simulateReport](t, env.mustRun("", "simulate", "--json"))
	if report.Format != "embedded" || report.Record.Name != "Bambu PLA" || report.Written {
		t.Errorf("simulated read = %+v", report)
	}

	recordPath := env.writeFile("spool.json", []byte(galaxyRecord))
	written := decodeJSON[simulateReport](t, env.mustRun("", "simulate", "--json", "--write", recordPath, "--uid", "04A22B1C5E80"))
	if !written.Written || written.Format != "image" || written.Confidence != "high" {
		t.Errorf("programmed read = %+v", written)
	}
	if written.Record.Name != "Galaxy Black" || written.UID != "04a22b1c5e80" {
		t.Errorf("programmed record %q on %s", written.Record.Name, written.UID)
	}
	if len(written.Image) != 2*taglayout.Size {
		t.Errorf("image hex is %d characters", len(written.Image))
	}

	entries := decodeJSON[[]map[string]any](t, env.mustRun("", "history", "--json"))
	operations := make([]string, 0, len(entries))
	for _, entry := range entries {
		operations = append(operations, entry["operation"].(string))
		if entry["source"] != "reader" {
			t.Errorf("entry source = %v, want the configured reader name", entry["source"])
		}
	}
	if strings.Join(operations, ",") != "read,write,read" {
		t.Errorf("journal operations = %v", operations)
	}
}

func TestSimulateArrivalAndTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.writeConfig("fast.yaml", "reader:\n  name: bench\n  poll_interval: 5ms\n")

	output := env.mustRun("", "simulate", "--color", "never", "--arrive-after", "30ms")
	if !strings.HasPrefix(output, "bench read tag") || !strings.Contains(output, "Bambu PLA") {
		t.Errorf("simulate output:\n%s", output)
	}

	if result := env.run("simulate", "--timeout", "0s"); cli.CategoryOf(result.err) != cli.CategoryValidation {
		t.Errorf("zero timeout: %v", result.err)
	}
	result := env.run("simulate", "--arrive-after", "1h", "--timeout", "20ms")
	if cli.CategoryOf(result.err) != cli.CategoryNotFound {
		t.Errorf("tag never arrives: %v", result.err)
	}
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	build := decodeJSON[map[string]any](t, env.mustRun("", "version", "--json"))
	if build["version"] == "" || build["go"] == "" {
		t.Errorf("version = %v", build)
	}
	if text := env.mustRun("", "version"); !strings.HasPrefix(text, "spooltag ") {
		t.Errorf("version text = %q", text)
	}
}

func TestRootCommandTree(t *testing.T) {
	env := newTestEnv(t)

	result := env.run("decod")
	if cli.CategoryOf(result.err) != cli.CategoryValidation || !strings.Contains(result.err.Error(), `"decode"`) {
		t.Errorf("misspelled command: %v", result.err)
	}

	help := env.mustRun("", "--help")
	for _, name := range []string{"decode", "encode", "inspect", "simulate", "key", "kinds", "dump", "history", "version"} {
		if !strings.Contains(help, name) {
			t.Errorf("root help does not list %s", name)
		}
	}

	if result := env.run("key"); cli.CategoryOf(result.err) != cli.CategoryValidation {
		t.Errorf("group without subcommand: %v", result.err)
	}
}

func TestMissingConfigIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.env["SPOOLTAG_CONFIG"] = env.path("nope.yaml")
	if result := env.runWithInput(galaxyRecord, "decode"); cli.CategoryOf(result.err) != cli.CategoryNotFound {
		t.Errorf("missing config: %v", result.err)
	}
}
