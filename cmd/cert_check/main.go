// cert_check diagnostica una credencial de firma antes de importarla: carga el .p12 o el par
// PEM, muestra sujeto, serie, vigencia y huella, clasifica el vencimiento y hace una firma
// de prueba con verificación.
//
// Uso:
//
//	go run ./cmd/cert_check -p12 certificado.p12 -password 123456
//	go run ./cmd/cert_check -cert cert.pem -key key.pem
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/fiscal/signer"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

func main() {
	p12Path := flag.String("p12", os.Getenv("CERT_P12_PATH"), "ruta del .p12/.pfx")
	password := flag.String("password", os.Getenv("CERT_P12_PASSWORD"), "contraseña del .p12")
	certPath := flag.String("cert", os.Getenv("CERT_PEM_PATH"), "ruta del certificado PEM")
	keyPath := flag.String("key", os.Getenv("CERT_KEY_PATH"), "ruta de la llave PEM (vacío = mismo archivo)")
	flag.Parse()

	fmt.Println("🔍 DIAGNÓSTICO DE CREDENCIAL DE FIRMA")
	fmt.Println("-------------------------------------")

	var (
		cred *signer.Credential
		err  error
	)
	switch {
	case *p12Path != "":
		fmt.Printf("📂 PKCS#12: %s\n", *p12Path)
		cred, err = signer.LoadFromP12(*p12Path, *password)
	case *certPath != "":
		fmt.Printf("📂 PEM: %s\n", *certPath)
		cred, err = signer.LoadFromPEM(*certPath, *keyPath)
	default:
		fmt.Println("❌ indique -p12 o -cert")
		os.Exit(2)
	}
	if err != nil {
		fmt.Printf("\n❌ ERROR AL CARGAR: %v\n", err)
		os.Exit(1)
	}

	leaf := cred.Leaf
	fingerprint, err := signer.CertificateFingerprint(signer.EncodeCertificatePEM(leaf.Raw))
	if err != nil {
		fmt.Printf("\n❌ ERROR DE HUELLA: %v\n", err)
		os.Exit(1)
	}
	profile := entity.CertificateProfile{ValidFrom: leaf.NotBefore, ValidUntil: leaf.NotAfter}
	expiry := profile.EvaluateExpiry(time.Now())

	fmt.Printf("   Sujeto:    %s\n", leaf.Subject.String())
	fmt.Printf("   Emisor:    %s\n", leaf.Issuer.String())
	fmt.Printf("   Serie:     %s\n", leaf.SerialNumber.Text(16))
	fmt.Printf("   Vigencia:  %s → %s\n", leaf.NotBefore.Format(time.RFC3339), leaf.NotAfter.Format(time.RFC3339))
	fmt.Printf("   Huella:    %s\n", fingerprint)
	fmt.Printf("   Curva:     %s\n", cred.Key.Curve.Params().Name)
	fmt.Printf("   Vence en:  %d días (%s)\n", expiry.DaysUntilExpiry, expiry.Level)

	svc := signer.NewService()
	probe := map[string]string{"check": "cert_check", "at": time.Now().UTC().Format(time.RFC3339)}
	sig, err := svc.Sign(probe, fiscal.SignatureAlgorithmES256, cred.Key)
	if err != nil {
		fmt.Printf("\n❌ ERROR DE FIRMA: %v\n", err)
		os.Exit(1)
	}
	if !svc.Verify(probe, sig, &cred.Key.PublicKey) {
		fmt.Println("\n❌ la firma de prueba no verifica con la llave pública")
		os.Exit(1)
	}

	if expiry.Level == entity.ExpiryExpired {
		fmt.Println("\n⚠️  La credencial firma correctamente pero está VENCIDA.")
		os.Exit(1)
	}
	fmt.Println("\n✨ ¡ÉXITO! La credencial carga, firma y verifica.")
}
