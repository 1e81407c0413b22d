package oracle

import "fmt"

// synthesisPrompt builds the codegen instructions sent alongside the
// reference snapshot. The snapshot is the visual ground truth; the HTML is
// attached verbatim for structure and data extraction.
func synthesisPrompt(html string) string {
	return fmt.Sprintf(`You are an expert presentation engineer specializing in pixel-perfect HTML-to-PowerPoint conversion.

OBJECTIVE: Write a STANDALONE Python script (builder.py) that converts the given HTML into an EXACT VISUAL REPLICA PowerPoint (.pptx).

You have been given:
1. A SCREENSHOT showing the exact rendered output of the HTML in a browser.
2. The complete HTML source code.

Study the screenshot carefully: it is the ground truth for layout, colors, fonts, positions and spacing. Use the HTML to extract text content, data values and structure.

CONSTRAINT HIERARCHY (strict priority order):
1. DISPLAY ALL DATA: every element, text node, image and component from the HTML must be visibly rendered. Do not omit, truncate, hide or reorder anything.
2. EXACT VISUAL REPLICATION: positions, colors, fonts, sizes and spacing must match the screenshot.
3. FIXED SLIDE DIMENSIONS: exactly 1920px x 1080px (16:9). No overflow, no hidden content.
4. MAINTAIN READABILITY: body text never below 12px; if content overflows, shrink padding first, then gaps, then cautiously reduce font sizes.

TECHNICAL REQUIREMENTS:
- Use ONLY: python-pptx, beautifulsoup4, lxml, Pillow, requests.
- The script MUST provide a CLI: python builder.py --html input.html --out output.pptx
- Only create the file on disk. Do not print PPTX content or base64 to stdout.

python-pptx API pitfalls (these cause runtime errors — avoid them):
- Px() DOES NOT EXIST. Use Pt(), Emu, or direct EMU math (1 px = 9525 EMU).
- shapes.add_freeform_builder() DOES NOT EXIST.
- MSO_SHAPE.LINE DOES NOT EXIST; use shapes.add_connector(MSO_CONNECTOR.STRAIGHT, ...).
- NEVER chain fill calls: shape.fill.solid() returns None. Write two steps:
    shape.fill.solid()
    shape.fill.fore_color.rgb = ...
- Bullet properties belong to the paragraph, not the font.
- Paragraph alignment is p.alignment, not p.paragraph_format.alignment.
- If data lives in a <script> tag, extract the JSON with a regular expression, never with string splitting.

Coordinate system: slide is 1920 x 1080 px; 1 px = 9525 EMU exactly, so slide width = 18288000 EMU and height = 10287000 EMU.

Typography: default font "Segoe UI" with "Calibri"/"Arial" fallback; convert px to pt with pt = px * 0.75; preserve bold/italic/underline, alignment, line-height and colors, including inline <b>/<i>/<span style> formatting.

Layout: compute final absolute positions for flex/grid layouts, respect z-index ordering, map the CSS box model onto shapes, and keep all container corners sharp and rectangular.

Images: download remote src with requests, decode data: URIs, place at exact positions and dimensions.

Charts: recreate <canvas>/Chart.js visuals with shapes and text boxes — rectangles for bars, connectors for lines — showing all labels, values and legends.

Tables and lists: use PowerPoint table objects for <table>; text boxes with bullet formatting for <ul>/<ol>.

DELIVERABLE: output ONLY a single complete Python file inside one fenced block (`+"```python ... ```"+`). It must be self-contained and runnable after: pip install python-pptx beautifulsoup4 lxml Pillow requests

Here is the HTML to convert (verbatim between <HTML> tags):
<HTML>
%s
</HTML>
`, html)
}

// repairPrompt builds the fix request. The failing program and its complete
// diagnostic transcript are included verbatim so the revision can be
// grounded in the actual failure.
func repairPrompt(source, transcript string) string {
	return fmt.Sprintf(`The following Python script, which uses the python-pptx library, failed to execute.
Analyze the code and the execution output to identify and fix the issue.

CRITICAL:
- Provide only the complete, corrected, runnable Python script.
- No explanations, apologies, or markdown outside of the code block.
- The corrected script must remain a single self-contained file.
- Pay close attention to common python-pptx API errors like chained .solid().fore_color calls or the non-existent Px class.

--- FAULTY CODE ---
`+"```python"+`
%s
`+"```"+`

--- EXECUTION OUTPUT ---
`+"```"+`
%s
`+"```"+`

--- CORRECTED PYTHON SCRIPT ---
`, source, transcript)
}
