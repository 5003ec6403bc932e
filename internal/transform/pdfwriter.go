package transform

import (
	"bufio"
	"fmt"
	"io"
)

// pdfImage is one page: a DeviceRGB JPEG drawn at one point per pixel.
type pdfImage struct {
	Width  int
	Height int
	JPEG   []byte
}

// writeImagePDF writes a PDF 1.4 document with one page per image. Object 1
// is the catalog, object 2 the page tree, and each page takes three objects:
// the page, its content stream, and its image XObject.
func writeImagePDF(w io.Writer, pages []pdfImage) error {
	if len(pages) == 0 {
		return fmt.Errorf("pdf needs at least one page")
	}
	out := &countingWriter{w: bufio.NewWriter(w)}
	objects := 2 + 3*len(pages)
	offsets := make([]int64, objects+1)

	begin := func(num int) {
		offsets[num] = out.n
		fmt.Fprintf(out, "%d 0 obj\n", num)
	}
	end := func() { io.WriteString(out, "endobj\n") }

	io.WriteString(out, "%PDF-1.4\n%\xE2\xE3\xCF\xD3\n")

	begin(1)
	io.WriteString(out, "<< /Type /Catalog /Pages 2 0 R >>\n")
	end()

	begin(2)
	io.WriteString(out, "<< /Type /Pages /Kids [")
	for i := range pages {
		fmt.Fprintf(out, " %d 0 R", 3+3*i)
	}
	fmt.Fprintf(out, " ] /Count %d >>\n", len(pages))
	end()

	for i, page := range pages {
		pageNum, contentNum, imageNum := 3+3*i, 4+3*i, 5+3*i
		name := fmt.Sprintf("Im%d", i+1)

		begin(pageNum)
		fmt.Fprintf(out, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Resources << /XObject << /%s %d 0 R >> >> /Contents %d 0 R >>\n",
			page.Width, page.Height, name, imageNum, contentNum)
		end()

		content := fmt.Sprintf("q\n%d 0 0 %d 0 0 cm\n/%s Do\nQ\n", page.Width, page.Height, name)
		begin(contentNum)
		fmt.Fprintf(out, "<< /Length %d >>\nstream\n%s\nendstream\n", len(content), content)
		end()

		begin(imageNum)
		fmt.Fprintf(out, "<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode /Length %d >>\nstream\n",
			page.Width, page.Height, len(page.JPEG))
		_, _ = out.Write(page.JPEG)
		io.WriteString(out, "\nendstream\n")
		end()
	}

	xref := out.n
	fmt.Fprintf(out, "xref\n0 %d\n", objects+1)
	io.WriteString(out, "0000000000 65535 f \n")
	for num := 1; num <= objects; num++ {
		fmt.Fprintf(out, "%010d 00000 n \n", offsets[num])
	}
	fmt.Fprintf(out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", objects+1, xref)

	if out.err != nil {
		return out.err
	}
	return out.w.Flush()
}

type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}
